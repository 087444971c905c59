package ask

import (
	"errors"
	"testing"
	"time"
)

func regWith(opts ...RegOption) *registration {
	return newRegistration(func(*ReqContext, []any) (*Response, error) { return nil, nil }, opts)
}

func slotLookup(slots map[string]string) func(string) (any, bool) {
	return intentLookup(Intent{Slots: func() map[string]Slot {
		out := map[string]Slot{}
		for name, value := range slots {
			out[name] = Slot{Name: name, Value: value}
		}
		return out
	}()})
}

func TestBindMappingAndDefault(t *testing.T) {
	today := time.Date(2018, 4, 1, 0, 0, 0, 0, time.UTC)
	reg := regWith(
		Params("city", "date"),
		MapTo("city", "City"),
		DefaultBy("date", func() any { return today }),
	)

	args, convertErrors := bindParams(reg, slotLookup(map[string]string{"City": "Seattle"}))
	if len(convertErrors) != 0 {
		t.Fatalf("convert errors: %v", convertErrors)
	}
	if len(args) != 2 || args[0] != "Seattle" {
		t.Fatalf("args = %v", args)
	}
	if args[1] != today {
		t.Fatalf("default not applied: %v", args[1])
	}
}

func TestBindEmptyStringCountsAsAbsent(t *testing.T) {
	reg := regWith(Params("city"), Default("city", "Portland"))

	args, _ := bindParams(reg, slotLookup(map[string]string{"city": ""}))
	if args[0] != "Portland" {
		t.Fatalf("empty slot did not fall back to default: %v", args[0])
	}
}

func TestBindMissingWithoutDefaultIsNil(t *testing.T) {
	reg := regWith(Params("city"))

	args, _ := bindParams(reg, slotLookup(nil))
	if args[0] != nil {
		t.Fatalf("expected nil, got %v", args[0])
	}
}

func TestBindBuiltinDateConverter(t *testing.T) {
	reg := regWith(Params("date"), Convert("date", "date"))

	args, convertErrors := bindParams(reg, slotLookup(map[string]string{"date": "2015-11-25"}))
	if len(convertErrors) != 0 {
		t.Fatalf("convert errors: %v", convertErrors)
	}
	got, ok := args[0].(time.Time)
	if !ok || !got.Equal(time.Date(2015, 11, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("args[0] = %v", args[0])
	}

	// The date grammar matching nothing is a nil value, not an error.
	args, convertErrors = bindParams(reg, slotLookup(map[string]string{"date": "whenever"}))
	if len(convertErrors) != 0 {
		t.Fatalf("no-match must not be an error: %v", convertErrors)
	}
	if args[0] != nil {
		t.Fatalf("args[0] = %v", args[0])
	}
}

func TestBindConverterFailureKeepsRawValue(t *testing.T) {
	boom := errors.New("boom")
	reg := regWith(
		Params("amount"),
		ConvertWith("amount", func(any) (any, error) { return nil, boom }),
	)

	args, convertErrors := bindParams(reg, slotLookup(map[string]string{"amount": "three"}))
	if args[0] != "three" {
		t.Fatalf("failed conversion must keep the pre-conversion value, got %v", args[0])
	}
	err, ok := convertErrors["amount"]
	if !ok || !errors.Is(err, boom) {
		t.Fatalf("convertErrors = %v", convertErrors)
	}
}

func TestBindTimedeltaFailureRecorded(t *testing.T) {
	reg := regWith(Params("length"), Convert("length", "timedelta"))

	args, convertErrors := bindParams(reg, slotLookup(map[string]string{"length": "a while"}))
	if _, ok := convertErrors["length"]; !ok {
		t.Fatalf("expected a recorded conversion error, got %v", convertErrors)
	}
	if args[0] != "a while" {
		t.Fatalf("args[0] = %v", args[0])
	}
}

func TestUnknownShorthandPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown converter shorthand")
		}
	}()
	Convert("x", "datetime")
}
