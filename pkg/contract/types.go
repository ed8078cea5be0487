package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Line: 单文件内的一条非空输入行。
// 约束：
// - No 为 1 起的物理行号（空行计数但不产出）；
// - Text 已去除行尾 CR/LF，不做其它清洗。
type Line struct {
	FileID FileID
	No     int
	Text   string
}

// QueryRequest: 一次查询合成请求（参数配方 × 风格配方 × 期望条数）。
type QueryRequest struct {
	// Index: 组合序号（参数配方优先、风格配方次之的笛卡尔积序）。
	Index       int
	ParamRecipe string
	StyleRecipe string
	Count       int
}
