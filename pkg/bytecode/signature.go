package bytecode

import (
	"fmt"
	"sort"
	"strings"
)

// MethodSignature identifies a method by declaring class, name and JVM
// descriptor. It is comparable and used as a map key throughout the engine.
type MethodSignature struct {
	Class      string
	Name       string
	Descriptor string
}

// String returns "class.name(args)ret", the form used as cache key and file
// name.
func (s MethodSignature) String() string {
	return s.Class + "." + s.Name + s.Descriptor
}

// Pretty renders the signature in source form, e.g.
// "void demo.A.run(int, java.lang.String)".
func (s MethodSignature) Pretty() string {
	args, ret, err := ParseMethodDescriptor(s.Descriptor)
	if err != nil {
		return s.String()
	}
	names := make([]string, len(args))
	for i, a := range args {
		names[i], _ = TypeName(a)
	}
	retName, _ := TypeName(ret)
	return fmt.Sprintf("%s %s.%s(%s)", retName, s.Class, s.Name, strings.Join(names, ", "))
}

// WithClass returns the signature rebased onto another class.
func (s MethodSignature) WithClass(class string) MethodSignature {
	s.Class = class
	return s
}

// ParseSignature parses the String form of a signature.
func ParseSignature(str string) (MethodSignature, error) {
	paren := strings.IndexByte(str, '(')
	if paren < 0 {
		return MethodSignature{}, fmt.Errorf("signature %q has no descriptor", str)
	}
	owner, name, err := splitMember(str[:paren])
	if err != nil {
		return MethodSignature{}, fmt.Errorf("signature %q: %w", str, err)
	}
	sig := MethodSignature{Class: owner, Name: name, Descriptor: str[paren:]}
	if _, _, err := ParseMethodDescriptor(sig.Descriptor); err != nil {
		return MethodSignature{}, fmt.Errorf("signature %q: %w", str, err)
	}
	return sig, nil
}

// CompareByName orders signatures by method name, then argument count,
// argument types and return type. The class is not considered.
func CompareByName(a, b MethodSignature) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	aArgs, aRet, _ := ParseMethodDescriptor(a.Descriptor)
	bArgs, bRet, _ := ParseMethodDescriptor(b.Descriptor)
	if len(aArgs) != len(bArgs) {
		if len(aArgs) < len(bArgs) {
			return -1
		}
		return 1
	}
	for i := range aArgs {
		if c := strings.Compare(aArgs[i], bArgs[i]); c != 0 {
			return c
		}
	}
	return strings.Compare(aRet, bRet)
}

// SortByName sorts signatures in place with CompareByName.
func SortByName(sigs []MethodSignature) {
	sort.SliceStable(sigs, func(i, j int) bool {
		return CompareByName(sigs[i], sigs[j]) < 0
	})
}
