// Package credentials resolves per-account secrets strictly through
// indirection references. Inline plaintext secrets are a configuration error.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/leaseline/leasing-ai-platform/internal/connector"
)

const (
	refPrefixEnv    = "env:"
	refPrefixSecret = "secret:"
	refSuffix       = "Ref"
)

// Fields with well-known meaning across platforms.
const (
	FieldUsername        = "username"
	FieldPassword        = "password"
	FieldSessionSnapshot = "sessionSnapshot"
	FieldProfileDir      = "profileDir"
)

// SecretStore fetches named secrets from an external secret manager.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvLookup resolves an environment variable; injectable for tests.
type EnvLookup func(key string) (string, bool)

// Resolved holds ephemeral plaintext credentials for the duration of one
// connector call. Never persist or log its values.
type Resolved struct {
	fields map[string]string
}

// Get returns the resolved value for a field, or "".
func (r Resolved) Get(field string) string { return r.fields[field] }

// Has reports whether a field resolved to a non-empty value.
func (r Resolved) Has(field string) bool { return strings.TrimSpace(r.fields[field]) != "" }

// HasInteractiveLogin reports whether a username/password pair is available.
func (r Resolved) HasInteractiveLogin() bool {
	return r.Has(FieldUsername) && r.Has(FieldPassword)
}

// HasSession reports whether a stored session snapshot or persistent profile
// directory can substitute for interactive login.
func (r Resolved) HasSession() bool {
	return r.Has(FieldSessionSnapshot) || r.Has(FieldProfileDir)
}

// Resolver turns credential reference maps into ephemeral plaintext values.
type Resolver struct {
	secrets SecretStore
	lookup  EnvLookup
}

// ResolverOption customizes the resolver.
type ResolverOption func(*Resolver)

// WithEnvLookup injects the environment lookup used for env: references.
func WithEnvLookup(lookup EnvLookup) ResolverOption {
	return func(r *Resolver) {
		if lookup != nil {
			r.lookup = lookup
		}
	}
}

// NewResolver builds a resolver. secrets may be nil when no secret: references
// are in use; resolving one without a store is a configuration error.
func NewResolver(secrets SecretStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		secrets: secrets,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsReference reports whether a value uses the accepted indirection syntax.
func IsReference(value string) bool {
	return strings.HasPrefix(value, refPrefixEnv) || strings.HasPrefix(value, refPrefixSecret)
}

// Resolve maps raw per-account credential config into plaintext values.
//
// Per field the explicit "<field>Ref" pointer wins, then the inline value
// (which must itself be an env:/secret: reference), else the field is absent.
// Every missing required field is a fatal, non-retryable error naming the
// field and platform.
func (r *Resolver) Resolve(ctx context.Context, platform string, raw map[string]string, required []string) (Resolved, error) {
	resolved := Resolved{fields: make(map[string]string, len(raw))}

	for key, value := range raw {
		field := strings.TrimSuffix(key, refSuffix)
		if field != key {
			// Explicit ref pointer: overrides any inline value for the field.
			plain, err := r.deref(ctx, platform, field, value)
			if err != nil {
				return Resolved{}, err
			}
			resolved.fields[field] = plain
			continue
		}
		if _, hasRef := raw[key+refSuffix]; hasRef {
			continue
		}
		if !IsReference(value) {
			return Resolved{}, connector.Fatal(connector.KindCredentialNotReference,
				"credential %q for platform %q must be an env: or secret: reference", key, platform)
		}
		plain, err := r.deref(ctx, platform, key, value)
		if err != nil {
			return Resolved{}, err
		}
		resolved.fields[key] = plain
	}

	for _, field := range required {
		if !resolved.Has(field) {
			return Resolved{}, connector.Fatal(connector.KindCredentialMissing,
				"credential %q missing for platform %q", field, platform)
		}
	}

	return resolved, nil
}

func (r *Resolver) deref(ctx context.Context, platform, field, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, refPrefixEnv):
		name := strings.TrimPrefix(ref, refPrefixEnv)
		value, ok := r.lookup(name)
		if !ok || value == "" {
			return "", connector.Fatal(connector.KindCredentialMissing,
				"credential %q for platform %q: environment variable %q not set", field, platform, name)
		}
		return value, nil
	case strings.HasPrefix(ref, refPrefixSecret):
		name := strings.TrimPrefix(ref, refPrefixSecret)
		if r.secrets == nil {
			return "", connector.Fatal(connector.KindCredentialMissing,
				"credential %q for platform %q: no secret store configured for %q", field, platform, ref)
		}
		value, err := r.secrets.GetSecret(ctx, name)
		if err != nil {
			return "", connector.Fatal(connector.KindCredentialMissing,
				"credential %q for platform %q: secret %q: %v", field, platform, name, err)
		}
		return value, nil
	default:
		return "", connector.Fatal(connector.KindCredentialNotReference,
			"credential %q for platform %q must be an env: or secret: reference", field, platform)
	}
}

// RequiredForLogin is the default required field set for login platforms.
// Session-based platforms pass ResolveSessionOrLogin instead.
var RequiredForLogin = []string{FieldUsername, FieldPassword}

// ResolveSessionOrLogin resolves credentials for a platform that accepts a
// stored browser session in place of a username/password pair.
func (r *Resolver) ResolveSessionOrLogin(ctx context.Context, platform string, raw map[string]string) (Resolved, error) {
	resolved, err := r.Resolve(ctx, platform, raw, nil)
	if err != nil {
		return Resolved{}, err
	}
	if resolved.HasSession() || resolved.HasInteractiveLogin() {
		return resolved, nil
	}
	return Resolved{}, connector.Fatal(connector.KindCredentialMissing,
		"platform %q requires a session snapshot, profile directory, or username/password pair", platform)
}

// Map exposes the resolved plaintext values for a single connector call.
// The returned map is ephemeral; callers must not retain it.
func (r Resolved) Map() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// ResolveForPlatform resolves an account's credential references according to
// the platform's login mode and returns the ephemeral plaintext map.
func (r *Resolver) ResolveForPlatform(ctx context.Context, platform string, raw map[string]string, sessionBased bool) (map[string]string, error) {
	var (
		resolved Resolved
		err      error
	)
	if sessionBased {
		resolved, err = r.ResolveSessionOrLogin(ctx, platform, raw)
	} else {
		resolved, err = r.Resolve(ctx, platform, raw, RequiredForLogin)
	}
	if err != nil {
		return nil, err
	}
	return resolved.Map(), nil
}

// Sprint formats a resolved set for debug logs without leaking values.
func (r Resolved) Sprint() string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	return fmt.Sprintf("credentials[%s]", strings.Join(keys, ","))
}
