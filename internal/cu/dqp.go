package cu

// DQP tracks delta-QP signaling through the coding order. A quantization
// group begins at every node whose area is at least the group area; the
// first CU of the group with coefficients codes CurrQP - PrevQP.
type DQP struct {
	PrevQP int
	CurrQP int
	Coded  bool
}

// StartGroup opens a quantization group with QP qp.
func (d *DQP) StartGroup(qp int) {
	if d.Coded {
		d.PrevQP = d.CurrQP
	}
	d.Coded = false
	d.CurrQP = qp
}

// Delta returns the value a CU coding the delta would send.
func (d *DQP) Delta() int { return d.CurrQP - d.PrevQP }
