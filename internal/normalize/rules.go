package normalize

import "bfclprep/pkg/jsonv"

// 默认字段名。
var (
	DefaultElementFields = []string{"el_inc", "el_exc"}
	DefaultCrystalFields = []string{"crystal_system"}
)

// ElementRule 将数组中每个字符串组替换为其 Expand 结果（就地展平）。
// 非数组值、非数组元素、含非字符串的组均原样保留。
func ElementRule(v jsonv.Value) (jsonv.Value, bool) {
	arr, ok := v.(jsonv.Array)
	if !ok {
		return v, false
	}
	out := make(jsonv.Array, 0, len(arr))
	for _, e := range arr {
		group, isArr := e.(jsonv.Array)
		if !isArr {
			out = append(out, e)
			continue
		}
		expanded, ok := ExpandGroup(group)
		if !ok {
			out = append(out, e)
			continue
		}
		out = append(out, expanded...)
	}
	return out, true
}

// CrystalSystemRule: [s] → [s, [s]]；其余形状不变（重复应用安全）。
func CrystalSystemRule(v jsonv.Value) (jsonv.Value, bool) {
	arr, ok := v.(jsonv.Array)
	if !ok || len(arr) != 1 {
		return v, false
	}
	s, ok := arr[0].(jsonv.String)
	if !ok {
		return v, false
	}
	return jsonv.Array{s, jsonv.Array{s}}, true
}

// Pass: 一次整树遍历所用的规则集。
type Pass struct {
	Name  string
	Rules Rules
}

// Options: 字段名配置；空切片使用默认值。
type Options struct {
	ElementFields []string `json:"element_fields"`
	CrystalFields []string `json:"crystal_fields"`
}

// Normalizer: 按固定顺序执行各遍变换（元素字段在前，晶系字段在后）。
type Normalizer struct {
	passes []Pass
}

// New 构造 Normalizer。
func New(opts Options) *Normalizer {
	el := opts.ElementFields
	if len(el) == 0 {
		el = DefaultElementFields
	}
	cs := opts.CrystalFields
	if len(cs) == 0 {
		cs = DefaultCrystalFields
	}
	return &Normalizer{passes: []Pass{
		{Name: "elements", Rules: bind(el, ElementRule)},
		{Name: "crystal_system", Rules: bind(cs, CrystalSystemRule)},
	}}
}

func bind(fields []string, r Rule) Rules {
	rs := make(Rules, len(fields))
	for _, f := range fields {
		rs[f] = r
	}
	return rs
}

// Passes 返回遍历顺序（只读）。
func (n *Normalizer) Passes() []Pass { return n.passes }

// Apply 返回变换后的新记录；rec 不被修改。
func (n *Normalizer) Apply(rec *jsonv.Object) *jsonv.Object {
	var cur jsonv.Value = rec
	for _, p := range n.passes {
		cur = Transform(cur, p.Rules)
	}
	return cur.(*jsonv.Object)
}
