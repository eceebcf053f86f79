// Package sample contains the persistable types used by the demo command.
package sample

import (
	"fmt"
	"strconv"

	"github.com/maruel/objdb/internal/schema"
)

// Person is identified by a generated token.
type Person struct {
	ID   schema.ID
	Name string
	Age  int
	// TemporaryData is never stored.
	TemporaryData string
	Family        []*Person
	Spouse        *Person
	Tags          map[schema.ID]*Tag
}

var personSchema = &schema.Schema{
	Name: "Person",
	New:  func() schema.Persistable { return &Person{} },
	Fields: []schema.Field{
		schema.Identifier[schema.ID]("id"),
		schema.Scalar("name", func(p *Person) *string { return &p.Name }).As("fullName"),
		schema.Scalar("age", func(p *Person) *int { return &p.Age }),
		schema.Transient[string]("temporaryData"),
		schema.List("family", "Person",
			func(p *Person) []*Person { return p.Family },
			func(p *Person, v []*Person) { p.Family = v }),
		schema.Ref("spouse", "Person",
			func(p *Person) *Person { return p.Spouse },
			func(p *Person, v *Person) { p.Spouse = v }),
		schema.Set("tags", "Tag",
			func(p *Person) map[schema.ID]*Tag { return p.Tags },
			func(p *Person, v map[schema.ID]*Tag) { p.Tags = v }),
	},
}

// NewPerson returns a Person without identifier.
func NewPerson(name string, age int) *Person {
	return &Person{Name: name, Age: age}
}

func (p *Person) Identifier() schema.ID { return p.ID }

func (p *Person) SetIdentifier(id schema.ID) error {
	p.ID = id
	return nil
}

func (*Person) Schema() *schema.Schema { return personSchema }

func (p *Person) String() string {
	return fmt.Sprintf("Person{id=%s, name=%q, age=%d, family=%d, temporaryData=%q}", p.ID, p.Name, p.Age, len(p.Family), p.TemporaryData)
}

// Tag labels a Person.
type Tag struct {
	ID    schema.ID
	Label string
}

var tagSchema = &schema.Schema{
	Name: "Tag",
	New:  func() schema.Persistable { return &Tag{} },
	Fields: []schema.Field{
		schema.Identifier[schema.ID]("id"),
		schema.Scalar("label", func(t *Tag) *string { return &t.Label }),
	},
}

func (t *Tag) Identifier() schema.ID { return t.ID }

func (t *Tag) SetIdentifier(id schema.ID) error {
	t.ID = id
	return nil
}

func (*Tag) Schema() *schema.Schema { return tagSchema }

// Member has an integer identifier and is meant for the sequential strategy.
type Member struct {
	ID   int
	Name string
	Age  int
}

var memberSchema = &schema.Schema{
	Name: "Member",
	New:  func() schema.Persistable { return &Member{} },
	Fields: []schema.Field{
		schema.Identifier[int]("id"),
		schema.Scalar("name", func(m *Member) *string { return &m.Name }),
		schema.Scalar("age", func(m *Member) *int { return &m.Age }),
	},
}

func (m *Member) Identifier() schema.ID {
	if m.ID == 0 {
		return ""
	}
	return schema.ID(strconv.Itoa(m.ID))
}

// SetIdentifier only accepts decimal integers.
func (m *Member) SetIdentifier(id schema.ID) error {
	n, err := strconv.Atoi(id.String())
	if err != nil {
		return fmt.Errorf("member id %q is not an integer: %w", id, err)
	}
	m.ID = n
	return nil
}

func (*Member) Schema() *schema.Schema { return memberSchema }

func (m *Member) String() string {
	return fmt.Sprintf("Member{id=%d, name=%q, age=%d}", m.ID, m.Name, m.Age)
}

// Schemas returns the schemas of every type in this package.
func Schemas() []*schema.Schema {
	return []*schema.Schema{personSchema, tagSchema, memberSchema}
}

// NewRegistry returns a registry holding every type in this package.
func NewRegistry() (*schema.Registry, error) {
	return schema.NewRegistry(Schemas()...)
}
