package obtree_test

import (
	"errors"
	"testing"

	"github.com/hupe1980/obtree"
	"github.com/hupe1980/obtree/tuple"
)

func TestBuilder_Basic(t *testing.T) {
	desc, err := obtree.NewIndex("orders").
		Int8("customer").
		Int8("order").
		Float8("amount").
		Key("customer", "order").
		Descr()
	if err != nil {
		t.Fatalf("Descr failed: %v", err)
	}

	if desc.Kind != tuple.IndexRegular {
		t.Errorf("kind = %s, want regular", desc.Kind)
	}
	if got := len(desc.KeyFields()); got != 2 {
		t.Fatalf("key fields = %d, want 2", got)
	}
	if desc.KeyFields()[1].Name != "order" {
		t.Errorf("second key field = %q", desc.KeyFields()[1].Name)
	}
	if desc.FillFactor != tuple.DefaultFillFactor {
		t.Errorf("fill factor = %d, want %d", desc.FillFactor, tuple.DefaultFillFactor)
	}
}

func TestBuilder_AllKeysByDefault(t *testing.T) {
	desc := obtree.NewIndex("pairs").Int4("a").OID("b").MustDescr()
	if got := len(desc.KeyFields()); got != 2 {
		t.Fatalf("key fields = %d, want 2", got)
	}
}

func TestBuilder_FullOptions(t *testing.T) {
	desc, err := obtree.NewIndex("events").
		Text("source").NullsFirst().
		Int8("at").Descending().
		TID("row").
		Key("source", "at", "row").
		KeyFields(2).
		Unique(1).
		FillFactor(75).
		Descr()
	if err != nil {
		t.Fatalf("Descr failed: %v", err)
	}

	if desc.Kind != tuple.IndexUnique || desc.NUniqueFields != 1 || desc.NKeyFields != 2 {
		t.Errorf("kind %s unique %d key %d", desc.Kind, desc.NUniqueFields, desc.NKeyFields)
	}
	if !desc.Fields[0].NullsFirst || desc.Fields[0].Descending {
		t.Errorf("source modifiers = %+v", desc.Fields[0])
	}
	if !desc.Fields[1].Descending {
		t.Errorf("at should be descending")
	}
	if desc.FillFactor != 75 {
		t.Errorf("fill factor = %d", desc.FillFactor)
	}
}

func TestBuilder_Kinds(t *testing.T) {
	base := obtree.NewIndex("k").Int8("id")
	tests := []struct {
		name string
		b    obtree.IndexBuilder
		want tuple.IndexKind
	}{
		{"regular", base, tuple.IndexRegular},
		{"primary", base.Primary(), tuple.IndexPrimary},
		{"toast", base.Toast(), tuple.IndexToast},
		{"bridge", base.Bridge(), tuple.IndexBridge},
		{"unique", base.Unique(1), tuple.IndexUnique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.MustDescr().Kind; got != tt.want {
				t.Errorf("kind = %s, want %s", got, tt.want)
			}
		})
	}

	if !base.System().MustDescr().System {
		t.Errorf("System() not applied")
	}
}

func TestBuilder_Immutable(t *testing.T) {
	b1 := obtree.NewIndex("a").Int8("x")
	b2 := b1.Int4("y").Descending()

	d1 := b1.MustDescr()
	d2 := b2.MustDescr()
	if len(d1.Fields) != 1 || len(d2.Fields) != 2 {
		t.Fatalf("fields = %d and %d, want 1 and 2", len(d1.Fields), len(d2.Fields))
	}
	if d1.Fields[0].Descending {
		t.Errorf("modifier leaked into the parent builder")
	}
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name string
		b    obtree.IndexBuilder
	}{
		{"no fields", obtree.NewIndex("e")},
		{"unknown key", obtree.NewIndex("e").Int8("id").Key("missing")},
		{"fill factor", obtree.NewIndex("e").Int8("id").FillFactor(5)},
		{"unique over key", obtree.NewIndex("e").Int8("id").Unique(2)},
		{"key fields over keys", obtree.NewIndex("e").Int8("id").KeyFields(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Descr()
			if !errors.Is(err, tuple.ErrInvalidDescr) {
				t.Errorf("err = %v, want ErrInvalidDescr", err)
			}
		})
	}
}

func TestBuilder_MustDescrPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("MustDescr did not panic")
		}
	}()
	obtree.NewIndex("p").MustDescr()
}
