package bytecode

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Well-known class names.
const (
	ObjectClass           = "java.lang.Object"
	ThrowableClass        = "java.lang.Throwable"
	ExceptionClass        = "java.lang.Exception"
	RuntimeExceptionClass = "java.lang.RuntimeException"
	ErrorClass            = "java.lang.Error"
	NullPointerClass      = "java.lang.NullPointerException"
	SystemClass           = "java.lang.System"
)

// ErrClassNotFound is returned by class loaders for unknown class names.
var ErrClassNotFound = errors.New("class not found")

// Class is a parsed class or interface.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Interface  bool
	Abstract   bool
	Methods    []*Method
}

// Method returns the method with the given name and descriptor.
func (c *Class) Method(name, descriptor string) (*Method, bool) {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m, true
		}
	}
	return nil, false
}

// Declares reports whether the class declares a method matching sig's name
// and descriptor.
func (c *Class) Declares(sig MethodSignature) bool {
	_, ok := c.Method(sig.Name, sig.Descriptor)
	return ok
}

// ClassLoader loads parsed classes by dotted name.
type ClassLoader interface {
	LoadClass(name string) (*Class, error)
}

// Program is an in-memory ClassLoader. It always knows the core java.lang
// throwable hierarchy so exception types resolve without a JDK.
type Program struct {
	mu      sync.RWMutex
	classes map[string]*Class
	user    map[string]bool
}

// NewProgram returns a program containing the system classes and the given
// program classes.
func NewProgram(classes ...*Class) *Program {
	p := &Program{classes: make(map[string]*Class), user: make(map[string]bool)}
	for _, c := range systemClasses() {
		p.classes[c.Name] = c
	}
	for _, c := range classes {
		p.Add(c)
	}
	return p
}

// Add registers a program class, replacing any class of the same name.
func (p *Program) Add(c *Class) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range c.Methods {
		if m.Class == "" {
			m.Class = c.Name
		}
	}
	p.classes[c.Name] = c
	p.user[c.Name] = true
}

// LoadClass implements ClassLoader.
func (p *Program) LoadClass(name string) (*Class, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return c, nil
}

// ClassNames returns the sorted names of the program (non-system) classes.
func (p *Program) ClassNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.user))
	for n := range p.user {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func systemClasses() []*Class {
	type def struct{ name, super string }
	defs := []def{
		{ObjectClass, ""},
		{ThrowableClass, ObjectClass},
		{ExceptionClass, ThrowableClass},
		{ErrorClass, ThrowableClass},
		{RuntimeExceptionClass, ExceptionClass},
		{NullPointerClass, RuntimeExceptionClass},
		{"java.lang.ArithmeticException", RuntimeExceptionClass},
		{"java.lang.ArrayIndexOutOfBoundsException", "java.lang.IndexOutOfBoundsException"},
		{"java.lang.IndexOutOfBoundsException", RuntimeExceptionClass},
		{"java.lang.ClassCastException", RuntimeExceptionClass},
		{"java.lang.IllegalArgumentException", RuntimeExceptionClass},
		{"java.lang.IllegalStateException", RuntimeExceptionClass},
		{"java.lang.NumberFormatException", "java.lang.IllegalArgumentException"},
		{"java.lang.UnsupportedOperationException", RuntimeExceptionClass},
		{"java.lang.InterruptedException", ExceptionClass},
		{"java.lang.CloneNotSupportedException", ExceptionClass},
		{"java.lang.ClassNotFoundException", ExceptionClass},
		{"java.io.IOException", ExceptionClass},
		{"java.io.FileNotFoundException", "java.io.IOException"},
		{"java.lang.OutOfMemoryError", "java.lang.VirtualMachineError"},
		{"java.lang.StackOverflowError", "java.lang.VirtualMachineError"},
		{"java.lang.VirtualMachineError", ErrorClass},
		{"java.lang.AssertionError", ErrorClass},
		{"java.lang.String", ObjectClass},
		{SystemClass, ObjectClass},
	}
	out := make([]*Class, 0, len(defs))
	for _, d := range defs {
		out = append(out, &Class{Name: d.name, Super: d.super})
	}
	return out
}
