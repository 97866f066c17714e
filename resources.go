package cuenc

import (
	"fmt"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// numPictures is the most pictures the buffer manager holds at once: the
// three roles of the picture in flight, two references and one recycled.
const numPictures = 6

// defaultWorkers returns the number of physical cores, falling back to
// the logical CPU count when the host does not report cores.
func defaultWorkers(log golog.Logger) int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		log.Debugw("physical core count unavailable", "error", err)
		return runtime.NumCPU()
	}
	return n
}

// footprint estimates the bytes an encoder with the given geometry keeps
// allocated: padded pictures, the CU map and the per-worker search state.
func footprint(width, height, pad int, format ChromaFormat, lcuLog2, workers int) uint64 {
	luma := uint64(width+2*pad) * uint64(height+2*pad)
	samples := luma
	if format == Chroma420 {
		samples += luma / 2
	}
	pics := numPictures * samples * 2
	lcu := uint64(1) << uint(2*lcuLog2)
	// Every shape slot of the store keeps prediction, reconstruction and
	// residual planes of its block.
	perWorker := 96 * lcu * 2
	return pics + uint64(workers)*perWorker + luma/4
}

// checkMemory fails with ErrResource when the host reports less available
// memory than need. A host that cannot report memory is not checked.
func checkMemory(need uint64, log golog.Logger) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debugw("memory statistics unavailable", "error", err)
		return nil
	}
	if vm.Available < need {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrResource, need, vm.Available)
	}
	return nil
}
