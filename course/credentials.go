package course

import (
	"os"
	"strings"

	"github.com/certflow/certflow/errors"
)

// Credentials is one platform login.
type Credentials struct {
	Username string
	Password string
}

// CredentialResolver maps a task's credential reference to a login. Secrets
// never live in the task table, only references.
type CredentialResolver interface {
	Resolve(ref string) (Credentials, error)
}

// EnvCredentialResolver resolves a reference REF to the environment variables
// CERTFLOW_CRED_REF_USERNAME and CERTFLOW_CRED_REF_PASSWORD.
type EnvCredentialResolver struct{}

func (EnvCredentialResolver) Resolve(ref string) (Credentials, error) {
	key := strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	username := os.Getenv("CERTFLOW_CRED_" + key + "_USERNAME")
	password := os.Getenv("CERTFLOW_CRED_" + key + "_PASSWORD")
	if username == "" || password == "" {
		return Credentials{}, errors.WithKind(
			errors.Newf("credentials %q not configured", ref),
			errors.KindAuth)
	}
	return Credentials{Username: username, Password: password}, nil
}
