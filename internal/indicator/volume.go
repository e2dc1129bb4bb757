package indicator

import "marketscope/internal/model"

// OBV is On-Balance Volume: a running sum seeded at 0 that adds volume on an
// up close and subtracts it on a down close.
type OBV struct {
	count     int
	prevClose float64
	current   float64
}

func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string { return "OBV" }

func (o *OBV) Update(bar model.Bar) {
	o.count++
	if o.count > 1 {
		switch {
		case bar.Close > o.prevClose:
			o.current += bar.Volume
		case bar.Close < o.prevClose:
			o.current -= bar.Volume
		}
	}
	o.prevClose = bar.Close
}

func (o *OBV) Value() float64 { return o.current }
func (o *OBV) Ready() bool    { return o.count > 0 }

// VWAP is cumulative(typical price × volume) / cumulative(volume) over every
// bar fed to it. It is not Ready while no volume has traded.
type VWAP struct {
	pv  float64
	vol float64
}

func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) Name() string { return "VWAP" }

func (v *VWAP) Update(bar model.Bar) {
	v.pv += bar.TypicalPrice() * bar.Volume
	v.vol += bar.Volume
}

func (v *VWAP) Value() float64 {
	if v.vol == 0 {
		return 0
	}
	return v.pv / v.vol
}

func (v *VWAP) Ready() bool { return v.vol > 0 }
