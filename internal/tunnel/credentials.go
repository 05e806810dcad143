package tunnel

import (
	"os"
	"strings"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
)

// CredentialKind says how a provider should consume a credential.
type CredentialKind string

const (
	CredentialNone  CredentialKind = ""
	CredentialToken CredentialKind = "token"
	CredentialFile  CredentialKind = "file"
)

// Credential is a resolved secret. Value is a token or a file path.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// Credential references stored in TunnelConfig.credential_ref.
const (
	refEnvPrefix  = "env:"
	refFilePrefix = "file:"
)

// ValidateCredentialRef checks the syntax of an operator-supplied reference.
// Raw secrets are refused so that they never land in the database.
func ValidateCredentialRef(ref string) error {
	switch {
	case ref == "":
		return nil
	case strings.HasPrefix(ref, refEnvPrefix) && len(ref) > len(refEnvPrefix):
		return nil
	case strings.HasPrefix(ref, refFilePrefix) && len(ref) > len(refFilePrefix):
		return nil
	}
	return errdefs.Validation("credential reference %q must look like env:NAME or file:/path", ref)
}

// CredentialResolver turns credential references into secrets.
type CredentialResolver struct {
	lookupEnv func(string) (string, bool)
	stat      func(string) (os.FileInfo, error)
	defaults  map[string]Credential
}

// NewCredentialResolver uses creds (from the LABELCTL_ environment) as
// per-provider fallbacks when a tunnel has no explicit reference.
func NewCredentialResolver(creds config.Credentials) *CredentialResolver {
	defaults := map[string]Credential{}
	switch {
	case creds.CloudflareCredentialsFile != "":
		defaults[config.ProviderCloudflareNamed] = Credential{Kind: CredentialFile, Value: creds.CloudflareCredentialsFile}
	case creds.CloudflareTunnelToken != "":
		defaults[config.ProviderCloudflareNamed] = Credential{Kind: CredentialToken, Value: creds.CloudflareTunnelToken}
	}
	if creds.NgrokAuthtoken != "" {
		defaults[config.ProviderNgrok] = Credential{Kind: CredentialToken, Value: creds.NgrokAuthtoken}
	}
	return &CredentialResolver{lookupEnv: os.LookupEnv, stat: os.Stat, defaults: defaults}
}

// Resolve returns the credential for provider given its stored reference.
// A missing credential resolves to CredentialNone; callers decide whether
// that is fatal.
func (r *CredentialResolver) Resolve(provider, ref string) (Credential, error) {
	if err := ValidateCredentialRef(ref); err != nil {
		return Credential{}, err
	}
	switch {
	case strings.HasPrefix(ref, refEnvPrefix):
		name := strings.TrimPrefix(ref, refEnvPrefix)
		v, ok := r.lookupEnv(name)
		if !ok || v == "" {
			return Credential{}, errdefs.Permanent(nil, "export "+name+" before starting labelctl", "environment variable %s is not set", name)
		}
		return Credential{Kind: CredentialToken, Value: v}, nil
	case strings.HasPrefix(ref, refFilePrefix):
		path := strings.TrimPrefix(ref, refFilePrefix)
		if _, err := r.stat(path); err != nil {
			return Credential{}, errdefs.Permanent(err, "check the credentials file path", "credentials file %s is not readable", path)
		}
		return Credential{Kind: CredentialFile, Value: path}, nil
	}
	return r.defaults[provider], nil
}
