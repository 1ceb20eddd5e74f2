package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/cmu-db/peloton-sub010/catalog"
)

type Value interface {
	Set(string) error
	SetValue(interface{}) error
	String() string
	Type() string
}

type Option int

const (
	Default      Option = 0
	NoUpdate     Option = 1 << iota // can not be updated after startup
	NoConfigFile                    // can not be specified in a config file
	Persistent                      // survives recovery from a checkpoint
)

func addOption(s, opt string) string {
	if s != "" {
		s += " | "
	}
	return s + opt
}

func (o Option) String() string {
	var s string
	if (o & NoUpdate) != 0 {
		s = addOption(s, "NoUpdate")
	}
	if (o & NoConfigFile) != 0 {
		s = addOption(s, "NoConfigFile")
	}
	if (o & Persistent) != 0 {
		s = addOption(s, "Persistent")
	}
	if s == "" {
		return "Default"
	}
	return s
}

type setBy int

const (
	byDefault setBy = iota
	byConfig
	byEnv
	byFlag
	byUpdate
)

func (sb setBy) String() string {
	switch sb {
	case byDefault:
		return "default"
	case byConfig:
		return "config"
	case byEnv:
		return "environment"
	case byFlag:
		return "flag"
	case byUpdate:
		return "update"
	}
	return fmt.Sprintf("setBy(%d)", sb)
}

// Param is a single configuration parameter. A param is declared with
// Config.Var, refined with Usage, Env, Option and Range, and completed by
// one of the typed methods which set the default and return the pointer.
type Param struct {
	c       *Config
	name    string
	ptr     interface{}
	val     Value
	usage   string
	env     string
	opts    Option
	def     string
	min     *string
	max     *string
	by      setBy
	defined bool
}

func (p *Param) Name() string {
	return p.name
}

func (p *Param) Value() string {
	return p.val.String()
}

func (p *Param) Options() Option {
	return p.opts
}

func (p *Param) SetBy() string {
	return p.by.String()
}

func (p *Param) Usage(usage string) *Param {
	p.usage = usage
	return p
}

func (p *Param) Env(env string) *Param {
	p.env = env
	return p
}

func (p *Param) Option(opts Option) *Param {
	p.opts |= opts
	return p
}

func (p *Param) Range(min, max string) *Param {
	p.min = &min
	p.max = &max
	return p
}

func (p *Param) set(s string, by setBy) error {
	if by < p.by {
		return nil
	}
	err := p.val.Set(s)
	if err != nil {
		return fmt.Errorf("config: param %s: %s", p.name, err)
	}
	p.by = by
	return nil
}

func (p *Param) setValue(v interface{}, by setBy) error {
	if by < p.by {
		return nil
	}
	err := p.val.SetValue(v)
	if err != nil {
		return fmt.Errorf("config: param %s: %s", p.name, err)
	}
	p.by = by
	return nil
}

// flagValue records that a param was set on the command line.
type flagValue struct {
	p *Param
}

func (fv flagValue) Set(s string) error {
	return fv.p.set(s, byFlag)
}

func (fv flagValue) String() string {
	return fv.p.val.String()
}

func (fv flagValue) Type() string {
	return fv.p.val.Type()
}

func flagName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

func (p *Param) define(val Value) {
	if p.defined {
		panic(fmt.Sprintf("config: param defined twice: %s", p.name))
	}
	p.val = val
	p.def = val.String()
	p.defined = true
	if p.usage != "" && p.c.fs != nil {
		p.c.fs.Var(flagValue{p}, flagName(p.name), p.usage)
	}
}

func (p *Param) Bool(b bool) *bool {
	bp := p.ptr.(*bool)
	*bp = b
	p.define((*boolValue)(bp))
	return bp
}

func (p *Param) Int(i int) *int {
	ip := p.ptr.(*int)
	*ip = i
	p.define((*intValue)(ip))
	return ip
}

func (p *Param) Int64(i int64) *int64 {
	ip := p.ptr.(*int64)
	*ip = i
	p.define((*int64Value)(ip))
	return ip
}

func (p *Param) Uint64(u uint64) *uint64 {
	up := p.ptr.(*uint64)
	*up = u
	p.define((*uint64Value)(up))
	return up
}

func (p *Param) Float64(f float64) *float64 {
	fp := p.ptr.(*float64)
	*fp = f
	p.define((*float64Value)(fp))
	return fp
}

func (p *Param) String(s string) *string {
	sp := p.ptr.(*string)
	*sp = s
	p.define((*stringValue)(sp))
	return sp
}

// Duration params accept a duration string or a number of seconds.
func (p *Param) Duration(d time.Duration) *time.Duration {
	dp := p.ptr.(*time.Duration)
	*dp = d
	p.define((*durationValue)(dp))
	return dp
}

type nameVal struct {
	name string
	val  string
}

// setArgs collects --set name=value arguments.
type setArgs struct {
	c *Config
}

func (sa setArgs) Set(s string) error {
	ss := strings.SplitN(s, "=", 2)
	if len(ss) != 2 {
		return fmt.Errorf("config: expected name=value; got %s", s)
	}
	sa.c.args = append(sa.c.args, nameVal{ss[0], ss[1]})
	return nil
}

func (_ setArgs) String() string {
	return ""
}

func (_ setArgs) Type() string {
	return "param=value"
}

// Config is a set of params. Values come, in increasing precedence, from the
// defaults, a config file, the environment, the command line and Update.
type Config struct {
	fs     *pflag.FlagSet
	params map[string]*Param
	args   []nameVal
}

// NewConfig returns an empty config; params declared with a usage are
// added to fs as flags.
func NewConfig(fs *pflag.FlagSet) *Config {
	return &Config{
		fs:     fs,
		params: map[string]*Param{},
	}
}

// SetFlag adds a repeatable flag which sets any param by name.
func (c *Config) SetFlag(name string) {
	c.fs.Var(setArgs{c}, name, "set `param=value`; multiple allowed")
}

func (c *Config) Var(ptr interface{}, name string) *Param {
	if _, ok := c.params[name]; ok {
		panic(fmt.Sprintf("config: param redefined: %s", name))
	}
	p := &Param{
		c:    c,
		name: name,
		ptr:  ptr,
	}
	c.params[name] = p
	return p
}

func (c *Config) Lookup(name string) (*Param, bool) {
	p, ok := c.params[name]
	return p, ok
}

func (c *Config) Params() []*Param {
	list := make([]*Param, 0, len(c.params))
	for _, p := range c.params {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].name < list[j].name
	})
	return list
}

// Env sets every param which has an environment variable and was not set on
// the command line.
func (c *Config) Env() error {
	for _, p := range c.Params() {
		if p.env == "" {
			continue
		}
		s, ok := os.LookupEnv(p.env)
		if !ok {
			continue
		}
		err := p.set(s, byEnv)
		if err != nil {
			return err
		}
	}
	return nil
}

// Args applies the --set arguments.
func (c *Config) Args() error {
	for _, arg := range c.args {
		p, ok := c.params[arg.name]
		if !ok {
			return fmt.Errorf("config: %s is not a param", arg.name)
		}
		err := p.set(arg.val, byFlag)
		if err != nil {
			return err
		}
	}
	c.args = nil
	return nil
}

// Update changes a param after startup.
func (c *Config) Update(name, val string) error {
	p, ok := c.params[name]
	if !ok {
		return fmt.Errorf("config: %s is not a param", name)
	}
	if (p.opts & NoUpdate) != 0 {
		return fmt.Errorf("config: %s may not be updated", name)
	}
	return p.set(val, byUpdate)
}

// Restore applies persistent settings recovered from a checkpoint to params
// which still have their default or config file values.
func (c *Config) Restore(settings []*catalog.SettingEntry) error {
	for _, se := range settings {
		p, ok := c.params[se.Name]
		if !ok || (p.opts&Persistent) == 0 || !se.IsPersistent || p.by > byConfig {
			continue
		}
		err := p.val.Set(se.Value)
		if err != nil {
			return fmt.Errorf("config: restoring %s: %s", se.Name, err)
		}
	}
	return nil
}

// Settings returns the params as rows for the settings catalog.
func (c *Config) Settings() []*catalog.SettingEntry {
	var settings []*catalog.SettingEntry
	for _, p := range c.Params() {
		if !p.defined {
			continue
		}
		settings = append(settings, &catalog.SettingEntry{
			Name:         p.name,
			Value:        p.val.String(),
			ValueType:    p.val.Type(),
			Description:  p.usage,
			MinValue:     p.min,
			MaxValue:     p.max,
			DefaultValue: p.def,
			IsMutable:    (p.opts & NoUpdate) == 0,
			IsPersistent: (p.opts & Persistent) != 0,
		})
	}
	return settings
}
