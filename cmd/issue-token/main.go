// Command issue-token mints a JWT pair for an agent or supervisor using the
// same JWT_* environment as the API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"callqueue/internal/auth"
	"callqueue/internal/config"
	"callqueue/internal/rbac"
)

func main() {
	var userID, role string
	flag.StringVar(&userID, "user", "", "User id (the CSR id for agents)")
	flag.StringVar(&role, "role", rbac.RoleAgent, "Role: agent, supervisor or super_admin")
	flag.Parse()

	if err := run(userID, role); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(userID, role string) error {
	if userID == "" {
		return fmt.Errorf("-user is required")
	}
	if !rbac.IsKnownRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), userID, role)
	if err != nil {
		return fmt.Errorf("issue: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
