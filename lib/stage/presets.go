package stage

import "github.com/baldwint/wanglib"

// LongStage is the 600 mm delay stage on the ESP300.
func LongStage(bus wanglib.Bus, num int, opts ...Option) (*DelayStage, *ESP300) {
	s := NewESP300(bus, num, append([]Option{WithOneMM(1)}, opts...)...)
	return &DelayStage{Positioner: s, Length: 600, C: 0.3}, s
}

// ShortStage is the 100 mm delay stage on the MM3000, which counts in
// 0.1 um steps.
func ShortStage(bus wanglib.Bus, num int, opts ...Option) (*DelayStage, *MM3000) {
	const mm = 1e4
	s := NewMM3000(bus, num, append([]Option{WithOneMM(mm)}, opts...)...)
	return &DelayStage{Positioner: s, Length: 100 * mm, C: 0.3 * mm}, s
}

// ShortyStage is a Newport UTM100pp.1 on the ESP300. It does not get along
// well with the ESP300; ShortStage is usually the better choice.
func ShortyStage(bus wanglib.Bus, num int, opts ...Option) *ESP300 {
	return NewESP300(bus, num, append([]Option{WithOneMM(1)}, opts...)...)
}

// InitShorty calibrates a UTM100pp.1: 2 mm thread pitch with 10:1 gearing
// and 2000 encoder ticks per motor revolution.
func InitShorty(s *ESP300) error {
	for _, f := range []func() error{
		func() error { return s.SetUnit(UnitMM) },
		func() error { return s.SetStepSize(0.2) },
		func() error { return s.SetEncoderResolution(0.0001) },
		func() error { return s.SetMaxVelocity(2) },
		func() error { return s.SetVelocity(1.5) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// ThorlabsZ612B is a Thorlabs Z612B motorized actuator on the ESP300,
// working in micrometres.
func ThorlabsZ612B(bus wanglib.Bus, num int, opts ...Option) *ESP300 {
	return NewESP300(bus, num, append([]Option{WithOneMM(1000)}, opts...)...)
}

// InitZ612B calibrates a Z612B: 0.5 mm thread pitch, 256:1 gearing and
// 48 encoder ticks per motor revolution (about 40 nm resolution), with a
// 425 um/s top speed.
func InitZ612B(s *ESP300) error {
	step := 500.0 / 256
	for _, f := range []func() error{
		func() error { return s.SetUnit(UnitUM) },
		func() error { return s.SetStepSize(step) },
		func() error { return s.SetEncoderResolution(step / 48) },
		func() error { return s.SetMaxVelocity(425) },
		func() error { return s.SetVelocity(200) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}
