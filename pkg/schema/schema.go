// Package schema defines the canonical entity schemas both sources are
// normalized onto. Schemas are declarative YAML embedded in the binary; once
// loaded they are immutable for the lifetime of the process.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/ledgermap/ledgermap/pkg/errors"
)

//go:embed schemas.yaml
var schemasYAML []byte

// Entity identifies a canonical entity type.
type Entity string

// Canonical entities.
const (
	EntityContact         Entity = "contact"
	EntityItem            Entity = "item"
	EntityCustomerPayment Entity = "customer_payment"
	EntityInvoice         Entity = "invoice"
	EntityBill            Entity = "bill"
	EntitySalesOrder      Entity = "sales_order"
	EntityPurchaseOrder   Entity = "purchase_order"
	EntityCreditNote      Entity = "credit_note"
)

// String returns the string representation of an entity.
func (e Entity) String() string {
	return string(e)
}

// Source identifies which feed produced a record or mapping.
type Source string

// The two feeds.
const (
	SourceCSV  Source = "CSV"
	SourceJSON Source = "JSON"
)

// String returns the string representation of a source.
func (s Source) String() string {
	return string(s)
}

// Kind is the scalar type of a canonical field.
type Kind string

// Scalar kinds.
const (
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindDatetime Kind = "datetime"
)

// Field is a single canonical field of an entity schema.
type Field struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
	Key  bool   `yaml:"key"`
}

// Schema is the canonical shape of one entity.
type Schema struct {
	Entity     Entity  `yaml:"-"`
	Key        string  `yaml:"key"`
	LineItems  bool    `yaml:"line_items"`
	Fields     []Field `yaml:"fields"`
	LineFields []Field `yaml:"line_fields"`
}

// HasLineItems reports whether the entity carries nested line items.
func (s *Schema) HasLineItems() bool {
	return s.LineItems
}

// FieldNames returns the header-grain canonical field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// LineFieldNames returns the line-item canonical field names in schema order.
func (s *Schema) LineFieldNames() []string {
	names := make([]string, 0, len(s.LineFields))
	for _, f := range s.LineFields {
		names = append(names, f.Name)
	}
	return names
}

// schemaFile is the on-disk layout of schemas.yaml.
type schemaFile struct {
	Entities map[Entity]*Schema `yaml:"entities"`
}

var (
	loadOnce sync.Once
	loadErr  error
	schemas  map[Entity]*Schema
)

func load() {
	var file schemaFile
	if err := yaml.Unmarshal(schemasYAML, &file); err != nil {
		loadErr = errors.WrapParse("yaml", "schemas.yaml", err)
		return
	}
	for entity, s := range file.Entities {
		s.Entity = entity
		if s.Key == "" {
			loadErr = errors.NewValidationError("key", nil,
				fmt.Sprintf("entity %s has no business key", entity))
			return
		}
	}
	schemas = file.Entities
}

// Get returns the canonical schema for an entity.
func Get(entity Entity) (*Schema, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	s, ok := schemas[entity]
	if !ok {
		return nil, errors.NewNotFoundError("schema", string(entity))
	}
	return s, nil
}

// All returns every canonical schema, sorted by entity name for determinism.
func All() ([]*Schema, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	out := make([]*Schema, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out, nil
}

// Entities returns every known entity name, sorted.
func Entities() []Entity {
	all, err := All()
	if err != nil {
		return nil
	}
	out := make([]Entity, 0, len(all))
	for _, s := range all {
		out = append(out, s.Entity)
	}
	return out
}
