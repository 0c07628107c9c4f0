// Command admin changes profile roles. Roles are never changed through the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"mitsnews.org/internal/audit"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/config"
	"mitsnews.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	dsn := flag.String("dsn", cfg.PGDSN, "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or MITSNEWS_PG_DSN")
	}
	if flag.NArg() != 2 {
		log.Fatal("usage: admin [promote|demote|show] <user-id>")
	}
	userID := flag.Arg(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var profile auth.Profile
	switch flag.Arg(0) {
	case "promote":
		profile, err = store.SetRole(ctx, userID, auth.RoleAdmin)
	case "demote":
		profile, err = store.SetRole(ctx, userID, auth.RoleContributor)
	case "show":
		profile, err = store.GetProfile(ctx, userID)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("%s %s: %v", flag.Arg(0), userID, err)
	}
	if flag.Arg(0) != "show" {
		_ = audit.LogEvent(ctx, auth.Session{}, "profile.role.set", map[string]any{
			"target_user": profile.ID,
			"role":        string(profile.Role),
		})
	}
	fmt.Printf("%s\t%s\t%s\t%s\n", profile.ID, profile.Role, profile.Email, profile.FullName)
}
