package main

import (
	"context"
	"flag"
	"os"

	sdk "github.com/nodeflow/nodeflow/sdk/client"
)

func runUserCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		fs := newFlagSet("user list")
		limit := fs.Int("limit", 0, "max users")
		fs.ParseArgs(args[1:])
		list, err := newClient(*fs.gateway, *fs.token).ListUsers(context.Background(), *limit)
		check(err)
		printJSON(list)
	case "get":
		fs := newFlagSet("user get")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "user id required")
		p, err := newClient(*fs.gateway, *fs.token).GetUser(context.Background(), id)
		check(err)
		printJSON(p)
	case "create":
		fs := newFlagSet("user create")
		id := fs.String("id", "", "auth user id")
		email := fs.String("email", "", "email")
		name := fs.String("name", "", "display name")
		role := fs.String("role", "", "user or admin")
		fs.ParseArgs(args[1:])
		if *id == "" || *email == "" {
			fail("--id and --email required")
		}
		p, err := newClient(*fs.gateway, *fs.token).CreateUser(context.Background(), &sdk.CreateUserRequest{
			ID: *id, Email: *email, Name: *name, Role: *role,
		})
		check(err)
		printJSON(p)
	case "update":
		fs := newFlagSet("user update")
		name := fs.String("name", "", "display name")
		avatar := fs.String("avatar-url", "", "avatar url")
		role := fs.String("role", "", "user or admin (admins only)")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "user id required")
		p, err := newClient(*fs.gateway, *fs.token).UpdateUser(context.Background(), id, buildUpdate(fs, *name, *avatar, *role))
		check(err)
		printJSON(p)
	case "delete":
		fs := newFlagSet("user delete")
		fs.ParseArgs(args[1:])
		id := requireArg(fs, "user id required")
		check(newClient(*fs.gateway, *fs.token).DeleteUser(context.Background(), id))
	default:
		usage()
		os.Exit(1)
	}
}

// buildUpdate sends only the flags that were set on the command line.
func buildUpdate(fs *flagSet, name, avatar, role string) *sdk.UpdateUserRequest {
	req := &sdk.UpdateUserRequest{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			req.Name = &name
		case "avatar-url":
			req.AvatarURL = &avatar
		case "role":
			req.Role = &role
		}
	})
	return req
}
