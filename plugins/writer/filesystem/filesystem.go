package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"bfclprep/pkg/contract"
)

// Options 为文件系统 Writer 配置。
type Options struct {
	// OutputDir: 输出根目录。为空时 ArtifactID 按普通路径解析（相对当前目录，允许绝对路径）；
	// 非空时 ArtifactID 必须是根内相对路径。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件 + rename。nil 采用默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 为 0 使用默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// StdoutID: 写往标准输出的工件标识（与 Reader 的 "-" 对称）。
const StdoutID contract.ArtifactID = "-"

// FS 实现 contract.Writer 与 contract.ArtifactOpener。
type FS struct {
	stdout  io.Writer
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var (
	_ contract.Writer         = (*FS)(nil)
	_ contract.ArtifactOpener = (*FS)(nil)
)

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	w := &FS{stdout: os.Stdout, root: strings.TrimSpace(opts.OutputDir), atomic: true, permF: opts.PermFile, permD: opts.PermDir, bufSize: opts.BufSize}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	return w, nil
}

// SetStdout 替换 StdoutID 的目标（测试用）。
func (w *FS) SetStdout(out io.Writer) { w.stdout = out }

// Path 返回 id 对应的目标路径。
func (w *FS) Path(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if rel == "." || rel == "" || strings.HasSuffix(string(id), "/") {
		return "", fmt.Errorf("%w: %q", contract.ErrPathInvalid, id)
	}
	if w.root == "" {
		return rel, nil
	}
	// 有根：禁止绝对路径、父级逃逸、卷名
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" ||
		rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", contract.ErrPathInvalid, id, w.root)
	}
	return filepath.Join(w.root, rel), nil
}

// Write 将 r 的全部字节写入 id 对应路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == StdoutID {
		bw := bufio.NewWriterSize(w.stdout, w.bufSize)
		if _, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
			return err
		}
		return bw.Flush()
	}
	dest, err := w.Path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

// Open 读取已存在的工件；不存在时错误满足 errors.Is(fs.ErrNotExist)。
func (w *FS) Open(ctx context.Context, id contract.ArtifactID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == StdoutID {
		return nil, fmt.Errorf("open %s: %w", id, fs.ErrNotExist)
	}
	p, err := w.Path(id)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeAtomic: 失败时删除临时文件，目标保持原状。
func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dest)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	if err = tmp.Chmod(w.permF); err != nil {
		return err
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err = io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// Windows 下 os.Rename 使用 MoveFileEx(REPLACE_EXISTING)
	if err = os.Rename(tmpPath, dest); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir: 尽力同步父目录元数据（Windows 不支持，跳过）。
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}

// ctxReader: 在每次 Read 前检查 ctx 是否已取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
