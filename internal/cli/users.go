package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ormdash.org/internal/auth"
)

var newUser struct {
	email      string
	name       string
	role       string
	units      string
	export     bool
	historical bool
	pii        bool
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersAddCmd)
	f := usersAddCmd.Flags()
	f.StringVar(&newUser.email, "email", "", "Login email")
	f.StringVar(&newUser.name, "name", "", "Display name")
	f.StringVar(&newUser.role, "role", "UNIT_LEAD", "UNIT_LEAD, SAFETY_OFFICER, GROUP_LEAD, WING_LEAD or ADMIN")
	f.StringVar(&newUser.units, "units", "", "Comma-separated unit ids the user may access")
	f.BoolVar(&newUser.export, "export", false, "Allow data export")
	f.BoolVar(&newUser.historical, "historical", true, "Allow access to historical records")
	f.BoolVar(&newUser.pii, "pii", false, "Allow viewing identifying fields")
	_ = usersAddCmd.MarkFlagRequired("email")
	_ = usersAddCmd.MarkFlagRequired("name")
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage dashboard accounts",
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a dashboard user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Users.CreateUser(ctx, auth.NewUser{
			Name:              newUser.name,
			Email:             newUser.email,
			Role:              newUser.role,
			UnitAccess:        splitUnits(newUser.units),
			CanExport:         newUser.export,
			CanViewHistorical: newUser.historical,
			CanViewPII:        newUser.pii,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", u.Role, u.Email, u.ID)
		return nil
	},
}

func splitUnits(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
