package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maruel/objdb/internal/idgen"
	"github.com/maruel/objdb/internal/mapper"
	"github.com/maruel/objdb/internal/query"
	"github.com/maruel/objdb/internal/sample"
)

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Populate the sample tables and run a few queries",
		Long: `Clears the Member, Person and Tag tables, saves members with sequential
identifiers and a family of people with the configured strategy, then loads
them back by identifier and by query.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeStore(s, &err)
			return runDemo(cmd.OutOrStdout(), s)
		},
	}
}

func runDemo(w io.Writer, s *store) error {
	m := s.mapper
	for _, name := range []string{"Member", "Person", "Tag"} {
		if err := m.ClearStorage(name); err != nil {
			return err
		}
	}

	seq := idgen.NewSequential(s.docs)
	for _, member := range []*sample.Member{{Name: "Karl", Age: 35}, {Name: "Paul", Age: 10}} {
		if err := m.SaveWith(member, seq); err != nil {
			return err
		}
		fmt.Fprintf(w, "Saved %s with sequential id %d\n", member.Name, member.ID)
	}

	john := sample.NewPerson("John Doe", 35)
	jane := sample.NewPerson("Jane Doe", 10)
	for _, p := range []*sample.Person{john, jane} {
		if err := m.Save(p); err != nil {
			return err
		}
		fmt.Fprintf(w, "Saved %s with %s id %s\n", p.Name, s.cfg.IDStrategy, p.ID)
	}

	john.Family = []*sample.Person{jane}
	jane.Family = []*sample.Person{john}
	if err := m.Save(john); err != nil {
		return err
	}
	fmt.Fprintln(w, "Linked John and Jane as family")

	loaded, ok, err := mapper.Get[*sample.Person](m, john.ID)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(w, "Loaded John: %v\n", loaded)
		if len(loaded.Family) > 0 {
			fmt.Fprintf(w, "John's family member: %v\n", loaded.Family[0])
		}
	}

	for _, p := range []*sample.Person{
		sample.NewPerson("Haley Sanes", 29),
		sample.NewPerson("Karen Randol", 48),
		sample.NewPerson("Andre Larcade", 81),
		sample.NewPerson("Calvin Wisseman", 7),
	} {
		if err := m.Save(p); err != nil {
			return err
		}
	}

	adults, err := mapper.Find[*sample.Person](m, query.MustParse("(age.greaterThan(18)))"))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Found %d adults:\n", len(adults))
	for _, adult := range adults {
		fmt.Fprintf(w, " - %v\n", adult)
		if adult.Name == "John Doe" {
			adult.Name = "New John Doe"
			if err := m.Save(adult); err != nil {
				return err
			}
		}
	}

	john.Age = 36
	if err := m.Save(john); err != nil {
		return err
	}

	people, err := mapper.Find[*sample.Person](m, query.MustParse("(age.greaterThan(18)) OR (age.lessThan(9)) "))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Found %d people:\n", len(people))
	for _, p := range people {
		fmt.Fprintf(w, " - %v\n", p)
	}
	return nil
}
