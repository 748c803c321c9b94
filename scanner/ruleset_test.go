package scanner

import "testing"

func TestDefineIntBoolString(t *testing.T) {
	r := &Rules{byName: make(map[string]int)}
	r.DefineInt("counter", 42)
	r.DefineBool("enabled", true)
	r.DefineString("label", "prod")

	v := r.externalVars["counter"]
	if got, err := v.intValue(); err != nil || got != 42 {
		t.Fatalf("counter = (%d, %v), want (42, nil)", got, err)
	}

	v = r.externalVars["enabled"]
	if got, err := v.intValue(); err != nil || got != 1 {
		t.Fatalf("enabled = (%d, %v), want (1, nil)", got, err)
	}

	v = r.externalVars["label"]
	if _, err := v.intValue(); err == nil {
		t.Fatal("expected error reading a string external variable as an int")
	}
	if v.strVal != "prod" {
		t.Fatalf("label strVal = %q, want %q", v.strVal, "prod")
	}
}

func TestDefineIntOverwritesPreviousValue(t *testing.T) {
	r := &Rules{byName: make(map[string]int)}
	r.DefineInt("x", 1)
	r.DefineInt("x", 2)
	v := r.externalVars["x"]
	if got, _ := v.intValue(); got != 2 {
		t.Fatalf("x = %d, want 2", got)
	}
}

func TestSaveLoadMetaRoundTrip(t *testing.T) {
	r := &Rules{
		byName: map[string]int{"myrule": 0},
		rules: []*compiledRule{
			{name: "myrule", namespace: "ns", private: true, strings: []string{"$a", "$b"},
				metas: []Meta{{Identifier: "author", Value: "someone"}}},
		},
	}
	data, err := r.Save()
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	g, err := LoadMeta(data)
	if err != nil {
		t.Fatalf("LoadMeta() error: %v", err)
	}
	if len(g.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(g.Rules))
	}
	got := g.Rules[0]
	if got.Name != "myrule" || got.Namespace != "ns" || !got.Private {
		t.Fatalf("got %+v, want name=myrule namespace=ns private=true", got)
	}
	if len(got.Strings) != 2 || len(got.Metas) != 1 {
		t.Fatalf("got %+v, want 2 strings and 1 meta", got)
	}
}

func TestThreadLimiterUnboundedByDefault(t *testing.T) {
	r := &Rules{byName: make(map[string]int)}
	for i := 0; i < 100; i++ {
		release, err := r.Acquire()
		if err != nil {
			t.Fatalf("Acquire() #%d error: %v", i, err)
		}
		release()
	}
}

func TestThreadLimiterEnforcesCap(t *testing.T) {
	r := &Rules{byName: make(map[string]int), threads: &threadLimiter{max: 2}}

	release1, err := r.Acquire()
	if err != nil {
		t.Fatalf("Acquire() #1 error: %v", err)
	}
	release2, err := r.Acquire()
	if err != nil {
		t.Fatalf("Acquire() #2 error: %v", err)
	}
	if _, err := r.Acquire(); err != ErrTooManyScanThreads {
		t.Fatalf("Acquire() #3 error = %v, want ErrTooManyScanThreads", err)
	}

	release1()
	if _, err := r.Acquire(); err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	release2()
}
