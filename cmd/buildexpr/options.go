package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "BUILDEXPR"

// opt is a single command-line option that can also come from the
// environment as BUILDEXPR_<FLAG>.
type opt struct {
	destP any
	flag  string
	dflt  any
	desc  string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// bindOptions adds opts to fs and seeds each destination from v, so the
// environment overrides defaults and explicit flags override both.
func bindOptions(v *viper.Viper, fs *pflag.FlagSet, opts []opt) {
	for _, o := range opts {
		switch destP := o.destP.(type) {
		case *string:
			var d string
			if o.dflt != nil {
				d = o.dflt.(string)
			}
			fs.StringVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, fs, o.flag)
			*destP = v.GetString(o.flag)
		case *int:
			var d int
			if o.dflt != nil {
				d = o.dflt.(int)
			}
			fs.IntVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, fs, o.flag)
			*destP = v.GetInt(o.flag)
		case *bool:
			var d bool
			if o.dflt != nil {
				d = o.dflt.(bool)
			}
			fs.BoolVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, fs, o.flag)
			*destP = v.GetBool(o.flag)
		case *float64:
			var d float64
			if o.dflt != nil {
				d = o.dflt.(float64)
			}
			fs.Float64Var(destP, o.flag, d, o.desc)
			mustBindPFlag(v, fs, o.flag)
			*destP = v.GetFloat64(o.flag)
		case *[]string:
			var d []string
			if o.dflt != nil {
				d = o.dflt.([]string)
			}
			fs.StringSliceVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, fs, o.flag)
			*destP = v.GetStringSlice(o.flag)
		default:
			panic(fmt.Errorf("unknown destination type %T", o.destP))
		}
	}
}

func mustBindPFlag(v *viper.Viper, fs *pflag.FlagSet, key string) {
	if err := v.BindPFlag(key, fs.Lookup(key)); err != nil {
		panic(err)
	}
}
