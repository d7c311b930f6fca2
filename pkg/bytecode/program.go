package bytecode

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// programFile is the YAML layout of a program description.
type programFile struct {
	Classes []classFile `yaml:"classes"`
}

type classFile struct {
	Name       string       `yaml:"name"`
	Super      string       `yaml:"super"`
	Interfaces []string     `yaml:"interfaces"`
	Interface  bool         `yaml:"interface"`
	Abstract   bool         `yaml:"abstract"`
	Methods    []methodFile `yaml:"methods"`
}

type methodFile struct {
	Name       string        `yaml:"name"`
	Descriptor string        `yaml:"descriptor"`
	Exceptions []string      `yaml:"exceptions"`
	Abstract   bool          `yaml:"abstract"`
	Native     bool          `yaml:"native"`
	Handlers   []handlerFile `yaml:"handlers"`
	Locals     []localFile   `yaml:"locals"`
	Code       []string      `yaml:"code"`
}

type handlerFile struct {
	Start   int    `yaml:"start"`
	End     int    `yaml:"end"`
	Handler int    `yaml:"handler"`
	Type    string `yaml:"type"`
}

type localFile struct {
	Index      int    `yaml:"index"`
	Start      int    `yaml:"start"`
	Length     int    `yaml:"length"`
	Name       string `yaml:"name"`
	Descriptor string `yaml:"descriptor"`
}

// LoadProgram reads a YAML program description from path.
func LoadProgram(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open program %s: %w", path, err)
	}
	defer f.Close()

	p, err := DecodeProgram(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load program %s: %w", path, err)
	}
	return p, nil
}

// DecodeProgram parses a YAML program description.
func DecodeProgram(r io.Reader) (*Program, error) {
	var pf programFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse program description: %w", err)
	}

	prog := NewProgram()
	for _, cf := range pf.Classes {
		c, err := cf.toClass()
		if err != nil {
			return nil, err
		}
		prog.Add(c)
	}
	return prog, nil
}

// MergePrograms returns a program holding the classes of every input. Later
// programs win on name clashes.
func MergePrograms(progs ...*Program) *Program {
	out := NewProgram()
	for _, p := range progs {
		for _, name := range p.ClassNames() {
			c, _ := p.LoadClass(name)
			out.Add(c)
		}
	}
	return out
}

func (cf classFile) toClass() (*Class, error) {
	if cf.Name == "" {
		return nil, fmt.Errorf("class without a name")
	}
	c := &Class{
		Name:       cf.Name,
		Super:      cf.Super,
		Interfaces: cf.Interfaces,
		Interface:  cf.Interface,
		Abstract:   cf.Abstract || cf.Interface,
	}
	if c.Super == "" && c.Name != ObjectClass {
		c.Super = ObjectClass
	}
	for _, mf := range cf.Methods {
		m, err := mf.toMethod(cf.Name)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

func (mf methodFile) toMethod(class string) (*Method, error) {
	m := &Method{
		Class:      class,
		Name:       mf.Name,
		Descriptor: mf.Descriptor,
		Exceptions: mf.Exceptions,
		Abstract:   mf.Abstract,
		Native:     mf.Native,
	}
	if _, _, err := ParseMethodDescriptor(m.Descriptor); err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", class, mf.Name, err)
	}
	for _, line := range mf.Code {
		ins, err := ParseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Signature(), err)
		}
		m.Instructions = append(m.Instructions, ins)
	}
	for _, h := range mf.Handlers {
		m.Handlers = append(m.Handlers, Handler{
			StartPC:   h.Start,
			EndPC:     h.End,
			HandlerPC: h.Handler,
			CatchType: h.Type,
		})
	}
	for _, l := range mf.Locals {
		m.LocalVariables = append(m.LocalVariables, LocalVariable{
			Index:      l.Index,
			StartPC:    l.Start,
			Length:     l.Length,
			Name:       l.Name,
			Descriptor: l.Descriptor,
		})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
