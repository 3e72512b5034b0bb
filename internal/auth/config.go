package auth

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultExchangeTimeout bounds the token endpoint call.
const DefaultExchangeTimeout = 30 * time.Second

// Config holds the OAuth client settings. Everything except
// RefreshTokenEndpoint must be set before a login may start.
type Config struct {
	ClientID              string        `json:"client_id" validate:"required"`
	RedirectURI           string        `json:"redirect_uri" validate:"required,url"`
	AuthorizationEndpoint string        `json:"authorization_endpoint" validate:"required,url"`
	TokenEndpoint         string        `json:"token_endpoint" validate:"required,url"`
	RefreshTokenEndpoint  string        `json:"refresh_token_endpoint" validate:"omitempty,url"`
	Scopes                []string      `json:"scopes" validate:"required,min=1,dive,required"`
	VerifierLength        int           `json:"verifier_length" validate:"omitempty,min=43,max=128"`
	ExchangeTimeout       time.Duration `json:"exchange_timeout"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports every missing or malformed setting in one
// configuration error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(KindConfiguration, "invalid OAuth configuration", err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		// Scopes[0] and friends report under their parent name.
		name := fe.Field()
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = name[:i]
		}
		if fe.Tag() == "required" || name == "scopes" {
			missing = appendUnique(missing, name)
			continue
		}
		invalid = appendUnique(invalid, name)
	}

	if len(missing) > 0 {
		return newError(KindConfiguration, "missing required OAuth configuration: "+strings.Join(missing, ", "), nil)
	}
	return newError(KindConfiguration, "invalid OAuth configuration: "+strings.Join(invalid, ", "), nil)
}

func (c Config) verifierLength() int {
	if c.VerifierLength <= 0 {
		return DefaultVerifierLength
	}
	return c.VerifierLength
}

func (c Config) exchangeTimeout() time.Duration {
	if c.ExchangeTimeout <= 0 {
		return DefaultExchangeTimeout
	}
	return c.ExchangeTimeout
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}
