package normalize

import (
	"strings"

	"bfclprep/pkg/jsonv"
)

// Permutations 按位置下标的字典序枚举 0..n-1 的全部排列。
// n <= 0 返回单个空排列。
func Permutations(n int) [][]int {
	if n <= 0 {
		return [][]int{{}}
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	total := 1
	for i := 2; i <= n; i++ {
		total *= i
	}
	out := make([][]int, 0, total)
	for {
		out = append(out, append([]int(nil), idx...))
		if !nextPermutation(idx) {
			return out
		}
	}
}

// nextPermutation 原地推进到字典序后继；已是最后一个时返回 false。
func nextPermutation(a []int) bool {
	i := len(a) - 2
	for i >= 0 && a[i] >= a[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(a) - 1
	for a[j] <= a[i] {
		j--
	}
	a[i], a[j] = a[j], a[i]
	for l, r := i+1, len(a)-1; l < r; l, r = l+1, r-1 {
		a[l], a[r] = a[r], a[l]
	}
	return true
}

// Expand 生成一个元素组的全部表示：
//   - 0 个：[tokens]
//   - 1 个：[tokens, tokens[0]]
//   - n>=2：n! 个序列形式，随后同序的 n! 个逗号拼接形式
//
// 重复元素按位置区分，不去重。
func Expand(tokens []string) []jsonv.Value {
	switch len(tokens) {
	case 0:
		return []jsonv.Value{jsonv.Strings(tokens...)}
	case 1:
		return []jsonv.Value{jsonv.Strings(tokens...), jsonv.String(tokens[0])}
	}
	perms := Permutations(len(tokens))
	out := make([]jsonv.Value, 0, 2*len(perms))
	seqs := make([][]string, len(perms))
	for i, p := range perms {
		seq := make([]string, len(p))
		for k, at := range p {
			seq[k] = tokens[at]
		}
		seqs[i] = seq
		out = append(out, jsonv.Strings(seq...))
	}
	for _, seq := range seqs {
		out = append(out, jsonv.String(strings.Join(seq, ",")))
	}
	return out
}

// ExpandGroup: Expand 的 jsonv 适配；含非字符串元素时视为未识别形状，返回 false。
// 空组原样返回（同一值）。
func ExpandGroup(group jsonv.Array) ([]jsonv.Value, bool) {
	if len(group) == 0 {
		return []jsonv.Value{group}, true
	}
	tokens, ok := jsonv.AsStrings(group)
	if !ok {
		return nil, false
	}
	return Expand(tokens), true
}
