package generate

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"bfclprep/pkg/contract"
	"bfclprep/pkg/jsonv"
)

//go:embed default.yaml
var defaultCatalog []byte

// 参数配方集合名。
const (
	ParamSetValid   = "valid"
	ParamSetInvalid = "invalid"
)

// Catalog: 配方目录与固定 function schema。只读，由调用方显式传入生成器。
type Catalog struct {
	ParamRecipes        []string
	InvalidParamRecipes []string
	StyleRecipes        []string
	// FunctionSchema: 写入每条记录 function 字段的对象，键序与 YAML 一致。
	FunctionSchema *jsonv.Object
}

type rawCatalog struct {
	ParamRecipes        []string  `yaml:"param_recipes"`
	InvalidParamRecipes []string  `yaml:"invalid_param_recipes"`
	StyleRecipes        []string  `yaml:"style_recipes"`
	FunctionSchema      yaml.Node `yaml:"function_schema"`
}

// DefaultCatalog 返回内置目录。
func DefaultCatalog() (*Catalog, error) { return ParseCatalog(defaultCatalog) }

// LoadCatalog 读取 YAML 目录；path 为空时使用内置目录。
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog read: %w", err)
	}
	c, err := ParseCatalog(b)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog 解析 YAML 目录；未知顶层键报错。
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw rawCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("catalog yaml: %v: %w", err, contract.ErrInvalidInput)
	}
	if raw.FunctionSchema.Kind == 0 {
		return nil, fmt.Errorf("catalog: function_schema missing: %w", contract.ErrInvalidInput)
	}
	v, err := nodeToValue(&raw.FunctionSchema)
	if err != nil {
		return nil, fmt.Errorf("catalog function_schema: %w", err)
	}
	schema, ok := v.(*jsonv.Object)
	if !ok {
		return nil, fmt.Errorf("catalog: function_schema must be a mapping, got %s: %w", v.Kind(), contract.ErrInvalidInput)
	}
	if len(raw.StyleRecipes) == 0 {
		return nil, fmt.Errorf("catalog: style_recipes empty: %w", contract.ErrInvalidInput)
	}
	return &Catalog{
		ParamRecipes:        raw.ParamRecipes,
		InvalidParamRecipes: raw.InvalidParamRecipes,
		StyleRecipes:        raw.StyleRecipes,
		FunctionSchema:      schema,
	}, nil
}

// Params 按集合名选择参数配方。
func (c *Catalog) Params(set string) ([]string, error) {
	var out []string
	switch set {
	case "", ParamSetValid:
		out = c.ParamRecipes
	case ParamSetInvalid:
		out = c.InvalidParamRecipes
	default:
		return nil, fmt.Errorf("catalog: unknown param set %q: %w", set, contract.ErrInvalidInput)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog: param set %q empty: %w", set, contract.ErrInvalidInput)
	}
	return out, nil
}

var errAliasDepth = errors.New("yaml alias nesting too deep")

// nodeToValue: YAML 节点 → JSON 值；映射保持键序，标量按解析后的标签取类型。
func nodeToValue(n *yaml.Node) (jsonv.Value, error) { return convert(n, 0) }

func convert(n *yaml.Node, depth int) (jsonv.Value, error) {
	if depth > 64 {
		return nil, errAliasDepth
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return jsonv.Null{}, nil
		}
		return convert(n.Content[0], depth+1)
	case yaml.AliasNode:
		return convert(n.Alias, depth+1)
	case yaml.MappingNode:
		obj := jsonv.NewObject()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: non-scalar mapping key: %w", k.Line, contract.ErrInvalidInput)
			}
			v, err := convert(n.Content[i+1], depth+1)
			if err != nil {
				return nil, err
			}
			obj.Set(k.Value, v)
		}
		return obj, nil
	case yaml.SequenceNode:
		arr := make(jsonv.Array, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := convert(c, depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d: %w", n.Line, n.Kind, contract.ErrInvalidInput)
}

func scalar(n *yaml.Node) (jsonv.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return jsonv.Null{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return jsonv.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, err
		}
		return jsonv.Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("line %d: %q is not representable in JSON: %w", n.Line, n.Value, contract.ErrInvalidInput)
		}
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if f == math.Trunc(f) && math.Abs(f) < 1e16 {
			s += ".0"
		}
		return jsonv.Number(s), nil
	}
	return jsonv.String(n.Value), nil
}
