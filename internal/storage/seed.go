package storage

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile lists accounts to upsert at start-up.
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one account entry in a seed file. PasswordHash is the already
// hashed credential; plaintext passwords are never accepted.
type SeedUser struct {
	Email        string   `yaml:"email"`
	PasswordHash string   `yaml:"passwordHash"`
	Roles        []string `yaml:"roles"`
	Disabled     bool     `yaml:"disabled"`
}

// LoadSeedFile reads and parses a users seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	for i, u := range f.Users {
		if u.Email == "" {
			return nil, fmt.Errorf("users[%d]: email is required", i)
		}
		if u.PasswordHash == "" {
			return nil, fmt.Errorf("users[%d] (%s): passwordHash is required", i, u.Email)
		}
	}
	return &f, nil
}

// SyncResult lists the emails a Sync changed.
type SyncResult struct {
	Upserted []string
	Deleted  []string
}

// Changed returns every email whose stored record was written or removed.
func (r SyncResult) Changed() []string {
	out := make([]string, 0, len(r.Upserted)+len(r.Deleted))
	out = append(out, r.Upserted...)
	return append(out, r.Deleted...)
}

// Sync upserts every user in the file. With prune, stored users absent from
// the file are deleted so the file becomes the source of truth.
func Sync(ctx context.Context, store UserStore, f *SeedFile, prune bool) (SyncResult, error) {
	var res SyncResult
	listed := make(map[string]struct{}, len(f.Users))
	for _, su := range f.Users {
		u := &User{
			Email:        su.Email,
			PasswordHash: su.PasswordHash,
			Roles:        su.Roles,
			Enabled:      !su.Disabled,
		}
		if err := store.UpsertUser(ctx, u); err != nil {
			return res, fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		listed[su.Email] = struct{}{}
		res.Upserted = append(res.Upserted, su.Email)
	}
	if !prune {
		return res, nil
	}

	stored, err := store.ListUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}
	for _, u := range stored {
		if _, ok := listed[u.Email]; ok {
			continue
		}
		if err := store.DeleteUser(ctx, u.Email); err != nil {
			return res, fmt.Errorf("delete user %s: %w", u.Email, err)
		}
		res.Deleted = append(res.Deleted, u.Email)
	}
	return res, nil
}
