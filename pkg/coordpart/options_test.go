package coordpart

import "testing"

func TestDefaultOptionsValid(t *testing.T) {
	opts := DefaultOptions()
	if err := opts.Validate(); err != nil {
		t.Fatalf("expected default options to validate, got %v", err)
	}
	if opts.NBins() != 512 {
		t.Fatalf("expected 512 bins from 9 bits, got %d", opts.NBins())
	}
}

func TestOptionsValidateRejectsBadFields(t *testing.T) {
	base := DefaultOptions()

	cases := []struct {
		name string
		mut  func(o Options) Options
	}{
		{"zero NBits", func(o Options) Options { o.NBits = 0; return o }},
		{"negative refine iterations", func(o Options) Options { o.RefineIterations = -1; return o }},
		{"zero tolerance", func(o Options) Options { o.BalanceTolerance = 0; return o }},
		{"zero min samples", func(o Options) Options { o.MinSamples = 0; return o }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			opts := c.mut(base)
			if err := opts.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", c.name)
			}
		})
	}
}
