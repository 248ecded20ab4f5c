package devbus

import "testing"

type fakeDevice struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
	resetErr error
}

func (d *fakeDevice) Start() error {
	*d.log = append(*d.log, "start:"+d.name)
	return d.startErr
}
func (d *fakeDevice) Stop() error {
	*d.log = append(*d.log, "stop:"+d.name)
	return d.stopErr
}
func (d *fakeDevice) Reset() error {
	*d.log = append(*d.log, "reset:"+d.name)
	return d.resetErr
}

func TestRegisterRejectsDuplicateAndNil(t *testing.T) {
	b := New()
	var log []string
	if err := b.Register("a", &fakeDevice{name: "a", log: &log}); err != nil {
		t.Fatalf("Register(a): %v", err)
	}
	if err := b.Register("a", &fakeDevice{name: "a2", log: &log}); err == nil {
		t.Fatalf("expected failure re-registering name %q", "a")
	}
	if err := b.Register("b", nil); err == nil {
		t.Fatalf("expected failure registering a nil device")
	}
}

func TestStartRunsInRegistrationOrderStopInReverse(t *testing.T) {
	b := New()
	var log []string
	must(t, b.Register("a", &fakeDevice{name: "a", log: &log}))
	must(t, b.Register("b", &fakeDevice{name: "b", log: &log}))

	must(t, b.Start())
	must(t, b.Stop())

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("got %v, want %v", log, want)
		}
	}
}

func TestResetRunsInSortedNameOrder(t *testing.T) {
	b := New()
	var log []string
	must(t, b.Register("zeta", &fakeDevice{name: "zeta", log: &log}))
	must(t, b.Register("alpha", &fakeDevice{name: "alpha", log: &log}))

	must(t, b.Reset())
	want := []string{"reset:alpha", "reset:zeta"}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("got %v, want %v", log, want)
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
