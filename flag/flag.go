// Package flag defines the command-line flags shared by binaries that embed
// the go-mail stack.
//
// It is built on top of the pflag library. Only two flags are predefined:
//
//   - `--debug` (bool): enables debug mode; error values carry their trace
//     when debug is on
//   - `--config` (string): path to the YAML configuration file
//
// Additional flags can be registered with Register before Init is called.
package flag

import (
	"fmt"
	"reflect"

	"github.com/spf13/pflag"
)

var (
	// Debug indicates whether debug mode is enabled
	Debug bool
	// ConfigPath is the path of the YAML configuration file
	ConfigPath string
)

func init() {
	pflag.BoolVar(&Debug, "debug", false, "Enables debug mode")
	pflag.StringVar(&ConfigPath, "config", "", "Path of the configuration file")
}

// Init parses all registered flags. It should be called once, early in the
// main package of the consuming application.
func Init() {
	pflag.Parse()
}

// Arguments returns the non-flag command-line arguments
func Arguments() []string {
	return pflag.Args()
}

// Register registers a new flag with the given name, value pointer and usage.
// It panics if the flag is already registered or if the value is not a
// non-nil pointer.
func Register(name string, value interface{}, usage string) {
	if pflag.Lookup(name) != nil {
		panic(fmt.Sprintf("flag %s already registered", name))
	}

	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		panic(fmt.Sprintf("flag %s must be a non-nil pointer", name))
	}

	switch v := value.(type) {
	case *string:
		pflag.StringVar(v, name, *v, usage)
	case *bool:
		pflag.BoolVar(v, name, *v, usage)
	case *int:
		pflag.IntVar(v, name, *v, usage)
	case *int64:
		pflag.Int64Var(v, name, *v, usage)
	case *uint:
		pflag.UintVar(v, name, *v, usage)
	case *uint32:
		pflag.Uint32Var(v, name, *v, usage)
	case *uint64:
		pflag.Uint64Var(v, name, *v, usage)
	case *float64:
		pflag.Float64Var(v, name, *v, usage)
	default:
		panic(fmt.Sprintf("unsupported flag type %T", v))
	}
}
