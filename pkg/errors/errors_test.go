package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/ledgermap/ledgermap/pkg/errors"
)

func TestNew(t *testing.T) {
	err := pkgerrors.New("test error")
	assert.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestNotFoundError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := &pkgerrors.NotFoundError{
			Resource: "schema",
			ID:       "invoice",
		}
		assert.Equal(t, "schema with ID invoice not found", err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
	})

	t.Run("constructor", func(t *testing.T) {
		err := pkgerrors.NewNotFoundError("mapping", "bill")
		assert.Equal(t, "mapping with ID bill not found", err.Error())
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("wrapped error", func(t *testing.T) {
		base := pkgerrors.NewNotFoundError("schema", "estimate")
		wrapped := errors.Join(errors.New("loading schemas"), base)
		assert.True(t, pkgerrors.IsNotFound(wrapped))
	})
}

func TestAmbiguousKeyError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := pkgerrors.NewAmbiguousKeyError("invoice", "CSV", "INV-001", 2)
		assert.Equal(t,
			`ambiguous business key "INV-001" in CSV source for entity invoice: 2 header rows`,
			err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrAmbiguousKey))
		assert.True(t, pkgerrors.IsAmbiguousKey(err))
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("reconciling invoice: %w",
			pkgerrors.NewAmbiguousKeyError("invoice", "JSON", "INV-002", 3))
		assert.True(t, pkgerrors.IsAmbiguousKey(err))
		assert.False(t, pkgerrors.IsFlattenMismatch(err))
	})
}

func TestFlattenMismatchError(t *testing.T) {
	err := pkgerrors.NewFlattenMismatchError("BILL-9", "expected 3 items, aggregated 2")
	assert.Contains(t, err.Error(), `"BILL-9"`)
	assert.True(t, errors.Is(err, pkgerrors.ErrFlattenMismatch))
	assert.True(t, pkgerrors.IsFlattenMismatch(err))

	noKey := pkgerrors.NewFlattenMismatchError("", "header payload differs")
	assert.Equal(t, "flatten round-trip mismatch: header payload differs", noKey.Error())
}

func TestMappingError(t *testing.T) {
	err := pkgerrors.NewMappingError("contact", "email_id", "CSV", 0.42, pkgerrors.ErrBelowConfidence)
	assert.Contains(t, err.Error(), "contact.email_id")
	assert.Contains(t, err.Error(), "0.42")
	assert.True(t, errors.Is(err, pkgerrors.ErrBelowConfidence))
}

func TestParseError(t *testing.T) {
	t.Run("with file and line", func(t *testing.T) {
		err := &pkgerrors.ParseError{
			Format:  "csv",
			File:    "invoices.csv",
			Line:    14,
			Message: "wrong number of fields",
		}
		assert.Equal(t, "parse error in csv at invoices.csv:14: wrong number of fields", err.Error())
	})

	t.Run("wrap helper", func(t *testing.T) {
		assert.Nil(t, pkgerrors.WrapParse("json", "x.json", nil))
		base := errors.New("unexpected EOF")
		err := pkgerrors.WrapParse("json", "x.json", base)
		assert.True(t, errors.Is(err, base))
	})
}

func TestStoreError(t *testing.T) {
	base := errors.New("database locked")
	err := pkgerrors.WrapStore("save", "reconciled_records", base)
	assert.Contains(t, err.Error(), "reconciled_records")
	assert.True(t, errors.Is(err, base))
	assert.Nil(t, pkgerrors.WrapStore("save", "reconciled_records", nil))
}

func TestIOError(t *testing.T) {
	base := errors.New("permission denied")
	err := pkgerrors.NewIOError("open", "/var/lib/ledgermap.db", base)
	assert.Equal(t, "IO error during open of /var/lib/ledgermap.db: permission denied", err.Error())
	assert.True(t, errors.Is(err, base))
}
