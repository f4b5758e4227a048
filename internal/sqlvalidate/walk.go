package sqlvalidate

import (
	"fmt"
	"strings"
)

// walk performs the AST walk spec.md section 4.5 and section 9 describe:
// at every object whose single key starts with an uppercase letter, treat
// the key as a node type. SubLink is always rejected. Column references,
// function calls, and type casts are checked against their allowlists.
func walk(node any) error {
	switch v := node.(type) {
	case map[string]any:
		return walkObject(v)
	case []any:
		for _, item := range v {
			if err := walk(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkObject(obj map[string]any) error {
	kind, body, ok := singleNodeKey(obj)
	if !ok {
		for _, v := range obj {
			if err := walk(v); err != nil {
				return err
			}
		}
		return nil
	}

	if kind == "SubLink" {
		return fmt.Errorf("SubLink (subquery) is not permitted")
	}

	if !structuralNodes[kind] && !allowedNodes[kind] {
		return fmt.Errorf("node type %q is not in the allowed set", kind)
	}

	bodyMap, isMap := body.(map[string]any)

	switch kind {
	case "ColumnRef":
		if isMap {
			if err := checkColumnRef(bodyMap); err != nil {
				return err
			}
		}
	case "FuncCall":
		if isMap {
			if err := checkFuncCall(bodyMap); err != nil {
				return err
			}
		}
	case "TypeCast":
		// children walked generically below; TypeName is checked via its
		// own node visit.
	case "TypeName":
		if isMap {
			if err := checkTypeName(bodyMap); err != nil {
				return err
			}
		}
	}

	return walk(body)
}

// singleNodeKey returns (key, value, true) if obj has exactly one key and
// that key starts with an uppercase ASCII letter, per spec.md section
// 4.5's node-type detection rule.
func singleNodeKey(obj map[string]any) (string, any, bool) {
	if len(obj) != 1 {
		return "", nil, false
	}
	for k, v := range obj {
		if len(k) > 0 && k[0] >= 'A' && k[0] <= 'Z' {
			return k, v, true
		}
		return "", nil, false
	}
	return "", nil, false
}

func checkColumnRef(body map[string]any) error {
	fields, _ := body["fields"].([]any)
	var names []string
	for _, f := range fields {
		fm, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := fm["String"]; ok {
			if sm, ok := s.(map[string]any); ok {
				if str, ok := sm["str"].(string); ok {
					names = append(names, str)
				}
				if str, ok := sm["sval"].(string); ok {
					names = append(names, str)
				}
			}
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("column reference with no resolvable name")
	}
	col := names[len(names)-1]
	if !allowedColumns[col] {
		return fmt.Errorf("column %q is not in the allowed set", col)
	}
	if len(names) > 1 {
		prefix := names[len(names)-2]
		if prefix != "e" && prefix != "ec" {
			return fmt.Errorf("column prefix %q is not allowed", prefix)
		}
	}
	return nil
}

func checkFuncCall(body map[string]any) error {
	funcnames, _ := body["funcname"].([]any)
	var name string
	for _, f := range funcnames {
		fm, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := fm["String"].(map[string]any); ok {
			if str, ok := s["str"].(string); ok {
				name = str
			}
			if str, ok := s["sval"].(string); ok {
				name = str
			}
		}
	}
	if name == "" || !allowedFunctions[strings.ToLower(name)] {
		return fmt.Errorf("function %q is not in the allowed set", name)
	}
	return nil
}

func checkTypeName(body map[string]any) error {
	names, _ := body["names"].([]any)
	var last string
	for _, n := range names {
		nm, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := nm["String"].(map[string]any); ok {
			if str, ok := s["str"].(string); ok {
				last = str
			}
			if str, ok := s["sval"].(string); ok {
				last = str
			}
		}
	}
	if last == "" || !allowedTypes[strings.ToLower(last)] {
		return fmt.Errorf("type %q is not in the allowed set", last)
	}
	return nil
}
