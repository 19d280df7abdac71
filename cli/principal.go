package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/identity"
)

// devTokenTTL is the lifetime of claims synthesised for --as.
const devTokenTTL = time.Hour

// Principal builds the acting principal from --token, or from --as and
// --service-role when no token is given.
func (s *Saccoguard) Principal(ctx context.Context, rt *Runtime) (*identity.Principal, error) {
	switch {
	case s.Token != "":
		v, err := identity.NewHS256Verifier(s.JWTSecret)
		if err != nil {
			return nil, err
		}
		claims, err := v.Verify(ctx, s.Token)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, identity.ErrInvalidClaims)
		}
		return rt.Builder.Principal(ctx, claims)
	case s.As != "":
		s.Logger().Warn("acting without a token", "subject", s.As, "service_role", s.ServiceRole)
		return rt.Builder.Principal(ctx, identity.DevClaims(s.As, s.ServiceRole, time.Now(), devTokenTTL))
	}
	return nil, fmt.Errorf("no identity: pass --token or --as: %w", identity.ErrInvalidClaims)
}

// TokenCommandInput contains the input for the token command.
type TokenCommandInput struct {
	Subject     string
	ServiceRole string
	Email       string
	TTL         string
	Secret      string

	Now    func() time.Time
	Stdout io.Writer
}

// ConfigureTokenCommand sets up the token command, which mints HS256
// identity tokens for development.
func ConfigureTokenCommand(app *kingpin.Application, s *Saccoguard) {
	input := TokenCommandInput{}

	cmd := app.Command("token", "Mint a development identity token")

	cmd.Arg("subject", "Subject (principal id) of the token").
		Required().
		StringVar(&input.Subject)

	cmd.Flag("role", "Service role claim").
		Default("MEMBER").
		StringVar(&input.ServiceRole)

	cmd.Flag("email", "Email claim").
		StringVar(&input.Email)

	cmd.Flag("ttl", "Token lifetime, e.g. 1h or 1d").
		Default("1h").
		StringVar(&input.TTL)

	cmd.Action(func(c *kingpin.ParseContext) error {
		input.Secret = s.JWTSecret
		err := TokenCommand(context.Background(), input)
		app.FatalIfError(err, "token")
		return nil
	})
}

// TokenCommand signs a verified claim set for the subject and prints the token.
func TokenCommand(_ context.Context, input TokenCommandInput) error {
	ttl, err := ParseDuration(input.TTL)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	v, err := identity.NewHS256Verifier(input.Secret)
	if err != nil {
		return err
	}

	now := time.Now
	if input.Now != nil {
		now = input.Now
	}
	claims := identity.DevClaims(input.Subject, input.ServiceRole, now(), ttl)
	claims.Email = input.Email

	token, err := v.Sign(claims)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdoutOr(input.Stdout), token)
	return nil
}
