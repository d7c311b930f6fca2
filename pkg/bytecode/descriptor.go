package bytecode

import (
	"fmt"
	"strings"
)

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// ClassDescriptor returns the field descriptor of a dotted class name.
func ClassDescriptor(class string) string {
	return "L" + strings.ReplaceAll(class, ".", "/") + ";"
}

// ObjectType returns the dotted class name denoted by a field descriptor, and
// false when the descriptor is a primitive or an array.
func ObjectType(desc string) (string, bool) {
	if len(desc) < 3 || desc[0] != 'L' || desc[len(desc)-1] != ';' {
		return "", false
	}
	return strings.ReplaceAll(desc[1:len(desc)-1], "/", "."), true
}

// TypeName renders a field descriptor in source form, e.g. "int[]" or
// "java.lang.String".
func TypeName(desc string) (string, error) {
	name, rest, err := nextType(desc)
	if err != nil {
		return "", err
	}
	if rest != "" {
		return "", fmt.Errorf("trailing characters in descriptor %q", desc)
	}
	return name, nil
}

// nextType consumes one field type from the front of desc.
func nextType(desc string) (name, rest string, err error) {
	if desc == "" {
		return "", "", fmt.Errorf("empty type descriptor")
	}
	switch c := desc[0]; c {
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end < 2 {
			return "", "", fmt.Errorf("unterminated class descriptor %q", desc)
		}
		return strings.ReplaceAll(desc[1:end], "/", "."), desc[end+1:], nil
	case '[':
		elem, rest, err := nextType(desc[1:])
		if err != nil {
			return "", "", err
		}
		return elem + "[]", rest, nil
	default:
		if p, ok := primitiveNames[c]; ok {
			return p, desc[1:], nil
		}
		return "", "", fmt.Errorf("invalid type descriptor %q", desc)
	}
}

// splitType returns the first raw field descriptor in desc and the remainder.
func splitType(desc string) (string, string, error) {
	_, rest, err := nextType(desc)
	if err != nil {
		return "", "", err
	}
	return desc[:len(desc)-len(rest)], rest, nil
}

// ParseMethodDescriptor splits a method descriptor into its argument and
// return field descriptors.
func ParseMethodDescriptor(desc string) (args []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("method descriptor %q must start with '('", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("method descriptor %q has no ')'", desc)
	}
	params := desc[1:end]
	for params != "" {
		var arg string
		arg, params, err = splitType(params)
		if err != nil {
			return nil, "", fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		args = append(args, arg)
	}
	ret, rest, err := splitType(desc[end+1:])
	if err != nil {
		return nil, "", fmt.Errorf("method descriptor %q: %w", desc, err)
	}
	if rest != "" {
		return nil, "", fmt.Errorf("method descriptor %q has trailing characters", desc)
	}
	return args, ret, nil
}

// slots returns the number of stack words a value of the given descriptor
// occupies.
func slots(desc string) int {
	switch {
	case desc == "" || desc == "V":
		return 0
	case desc == "J" || desc == "D":
		return 2
	default:
		return 1
	}
}
