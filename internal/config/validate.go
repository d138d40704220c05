package config

import (
	"errors"
	"os"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata" // timezone names work without a system zoneinfo

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/koustreak/sqlpoll/internal/statement"
	"github.com/robfig/cron/v3"
)

// use a single instance, it caches struct info
var (
	validate *validator.Validate
	trans    ut.Translator
)

func init() {
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ = uni.GetTranslator("en")

	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic(err)
	}
}

// Validate checks field formats and the rules that span several options.
// Every failure is an errs.ErrKindConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errs.Wrap(errs.ErrKindConfiguration, "invalid configuration", err)
		}
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = e.Namespace() + ": " + e.Translate(trans)
		}
		return errs.New(errs.ErrKindConfiguration, strings.Join(msgs, "; "))
	}
	return c.validateRules()
}

func (c *Config) validateRules() error {
	st := c.Statement
	if (st.Text == "") == (st.Filepath == "") {
		return errs.New(errs.ErrKindConfiguration,
			"must set either statement.text or statement.filepath, only one may be set at a time")
	}

	conn := c.Connection
	if conn.Password != "" && conn.PasswordFilepath != "" {
		return errs.New(errs.ErrKindConfiguration,
			"only one of connection.password, connection.password_filepath may be set at a time")
	}

	if c.Tracking.Mode == "by-column" && c.Tracking.Column == "" {
		return errs.New(errs.ErrKindConfiguration, "tracking.column must be set when tracking.mode is by-column")
	}

	if c.Paging.Enabled && c.Paging.PageSize <= 0 {
		return errs.Newf(errs.ErrKindConfiguration, "paging.page_size must be positive, got %d", c.Paging.PageSize)
	}

	if st.Prepared.Enabled {
		if strings.TrimSpace(st.Prepared.Name) == "" {
			return errs.New(errs.ErrKindConfiguration, "statement.prepared.name must not be empty")
		}
		if c.Paging.Enabled {
			return errs.New(errs.ErrKindConfiguration, "prepared statements cannot be combined with paging")
		}
		if st.Text != "" {
			if n := statement.CountPlaceholders(st.Text); n != len(st.Prepared.BindValues) {
				return errs.Newf(errs.ErrKindConfiguration,
					"statement has %d placeholders but statement.prepared.bind_values has %d entries", n, len(st.Prepared.BindValues))
			}
		}
	}

	loc, err := c.Location()
	if err != nil {
		return err
	}
	if _, err := record.NewDecorator(c.DecoratorConfig(loc)); err != nil {
		return err
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return errs.Wrap(errs.ErrKindConfiguration, "invalid schedule "+c.Schedule, err)
		}
	}

	if c.Sink.Type == "kafka" && (len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "") {
		return errs.New(errs.ErrKindConfiguration, "sink.kafka needs brokers and a topic")
	}
	return nil
}

// Location resolves connection.timezone. Nil means none was set.
func (c *Config) Location() (*time.Location, error) {
	if c.Connection.Timezone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(c.Connection.Timezone)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "unknown timezone "+c.Connection.Timezone, err)
	}
	return loc, nil
}

// Resolve replaces the file-based options with the content of their files.
func (c *Config) Resolve() error {
	if c.Statement.Filepath != "" {
		data, err := os.ReadFile(c.Statement.Filepath)
		if err != nil {
			return errs.Wrap(errs.ErrKindConfiguration, "failed to read statement file", err)
		}
		c.Statement.Text = string(data)
		c.Statement.Filepath = ""
	}

	if c.Connection.PasswordFilepath != "" {
		data, err := os.ReadFile(c.Connection.PasswordFilepath)
		if err != nil {
			return errs.Wrap(errs.ErrKindConfiguration, "failed to read password file", err)
		}
		c.Connection.Password = strings.TrimSpace(string(data))
		c.Connection.PasswordFilepath = ""
	}
	return c.validateRules()
}
