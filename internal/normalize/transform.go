package normalize

import "bfclprep/pkg/jsonv"

// Rule: 字段改写规则。ok=false 表示未识别形状，值保持不变。
type Rule func(v jsonv.Value) (out jsonv.Value, ok bool)

// Rules: 字段名 → 规则。
type Rules map[string]Rule

// Transform 深度优先重建整棵树，不修改输入。
// 对象中命中规则的键只应用规则、不再下钻；其余容器值递归处理。
// 数组逐元素递归；标量原样保留。成员顺序不变。
func Transform(node jsonv.Value, rules Rules) jsonv.Value {
	switch x := node.(type) {
	case *jsonv.Object:
		if x == nil {
			return x
		}
		out := &jsonv.Object{Members: make([]jsonv.Member, len(x.Members))}
		for i, m := range x.Members {
			v := m.Value
			if rule, hit := rules[m.Key]; hit {
				if nv, ok := rule(v); ok {
					v = nv
				}
			} else {
				v = Transform(v, rules)
			}
			out.Members[i] = jsonv.Member{Key: m.Key, Value: v}
		}
		return out
	case jsonv.Array:
		if x == nil {
			return x
		}
		out := make(jsonv.Array, len(x))
		for i, e := range x {
			out[i] = Transform(e, rules)
		}
		return out
	default:
		return node
	}
}
