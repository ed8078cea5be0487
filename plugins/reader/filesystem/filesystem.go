package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"bfclprep/pkg/contract"
)

// StdinID: 从标准输入读取时的 FileID。
const StdinID contract.FileID = "stdin"

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过的目录基名（大小写不敏感），如 [".git","logs"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts: 目录扫描时接受的扩展名（含点，大小写不敏感）。
	// nil 采用默认 [".jsonl",".json"]；显式空切片表示不限制。
	// 直接给出的文件 root 不受此限制。
	AllowExts []string `json:"allow_exts"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	allow      map[string]struct{} // nil 表示不限制
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	if opts == nil {
		opts = &Options{}
	}
	fs := &FileSystem{bufSize: opts.BufSize, excludeDir: lowerSet(opts.ExcludeDirNames)}
	if fs.bufSize <= 0 {
		fs.bufSize = 64 * 1024
	}
	switch {
	case opts.AllowExts == nil:
		fs.allow = lowerSet([]string{".jsonl", ".json"})
	case len(opts.AllowExts) > 0:
		fs.allow = lowerSet(opts.AllowExts)
	}
	return fs
}

func lowerSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			m[strings.ToLower(n)] = struct{}{}
		}
	}
	return m
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// roots 为空或仅为 "-" 时读取 STDIN；"-" 不得与其它 root 混用。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(StdinID, newBufferedCloser(os.Stdin, r.bufSize))
	}
	if slices.Contains(roots, "-") {
		return errors.New("stdin '-' cannot be mixed with other roots")
	}
	for _, root := range roots {
		if err := r.iterateRoot(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateRoot(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		// 仅跟随到常规文件；指向目录的链接忽略
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
	case info.IsDir():
		return r.walkDir(ctx, root, yield)
	case !info.Mode().IsRegular():
		return nil
	}
	return r.open(root, yield)
}

// walkDir: 字典序；先子目录后文件；不跟随目录符号链接。
func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir) // 已按文件名排序
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			if err := r.walkDir(ctx, p, yield); err != nil {
				return err
			}
			continue
		}
		if !r.accepts(e.Name()) {
			continue
		}
		mode := e.Type()
		if mode&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			mode = t.Mode()
		}
		if mode.IsRegular() {
			files = append(files, p)
		}
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) accepts(name string) bool {
	if r.allow == nil {
		return true
	}
	_, ok := r.allow[strings.ToLower(filepath.Ext(name))]
	return ok
}

// open: 成功交给 yield 后由调用方负责 Close；yield 失败时此处兜底关闭。
func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
