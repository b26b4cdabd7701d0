package errors

import "testing"

func TestError_FormatsKindAndMessage(t *testing.T) {
	err := New(TableNotFound, `table "orders" not found`)
	if err.Error() != `table_not_found: table "orders" not found` {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !Is(err, TableNotFound) {
		t.Errorf("Is() did not recognize its own Kind")
	}
}

func TestWrap_PreservesCauseAndUnwraps(t *testing.T) {
	cause := New(Storage, "disk full")
	wrapped := Wrap(Wal, cause, "fsync failed")
	if !Is(wrapped, Wal) {
		t.Errorf("Is() did not see the outer Kind")
	}
	if Is(wrapped, Storage) {
		t.Errorf("Is() should not match the wrapped-away inner Kind directly")
	}
}

func TestWrap_NilCauseReturnsNil(t *testing.T) {
	if Wrap(Storage, nil, "should be nil") != nil {
		t.Errorf("Wrap(kind, nil, msg) must return nil")
	}
}

func TestWithField_AttachesAndCopies(t *testing.T) {
	base := New(ConstraintViolation, "duplicate key")
	withField := WithField(base, "table", "orders")

	e, ok := withField.(*Error)
	if !ok {
		t.Fatalf("WithField must preserve the *Error type")
	}
	if v, ok := e.Field("table"); !ok || v != "orders" {
		t.Errorf("Field(table) = %q, %v", v, ok)
	}

	if orig, ok := base.(*Error); ok {
		if _, ok := orig.Field("table"); ok {
			t.Errorf("WithField must not mutate the original error")
		}
	}
}

func TestWithField_NonErrorIsNoOp(t *testing.T) {
	plain := errPlain("boom")
	if WithField(plain, "x", "y") != plain {
		t.Errorf("WithField on a non-*Error value must return it unchanged")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

func TestSpecializedConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"type mismatch", TypeMismatchError("int", "varchar"), TypeMismatch},
		{"sql parse", SqlParseError("unexpected token", "SELEC * FROM t"), SqlParse},
		{"sql execution", SqlExecutionError("division by zero", "row 4"), SqlExecution},
		{"sql not supported", SqlNotSupportedError("window functions", "use a subquery"), SqlNotSupported},
		{"invalid operation", InvalidOperationError("cannot write in a read-only snapshot", "tx 12"), InvalidOperation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !Is(tc.err, tc.kind) {
				t.Errorf("%s: expected Kind %s", tc.name, tc.kind)
			}
			if tc.err.Error() == "" {
				t.Errorf("%s: Error() returned empty string", tc.name)
			}
		})
	}
}

func TestTypeMismatchError_CarriesFields(t *testing.T) {
	err := TypeMismatchError("int", "varchar").(*Error)
	if v, _ := err.Field("expected"); v != "int" {
		t.Errorf("expected field = %q", v)
	}
	if v, _ := err.Field("actual"); v != "varchar" {
		t.Errorf("actual field = %q", v)
	}
}
