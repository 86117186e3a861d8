package decode

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"
)

// decodeZIP decodes every supported member concurrently and returns them in
// archive order. Unsupported or broken members are returned with Err set so
// the import report can name them.
func decodeZIP(ctx context.Context, name string, data []byte, opts Options) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", name, err)
	}

	var members []*zip.File
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || skipMember(zf.Name) {
			continue
		}
		members = append(members, zf)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%s: %w: archive has no files", name, ErrEmptyFile)
	}
	if len(members) > opts.MaxMembers {
		return nil, fmt.Errorf("%s: %w: %d members, limit %d", name, ErrTooLarge, len(members), opts.MaxMembers)
	}

	files := make([]File, len(members))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)
	for i, zf := range members {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			files[i] = decodeMember(zf, opts)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func decodeMember(zf *zip.File, opts Options) File {
	fail := func(err error) File {
		return File{Name: zf.Name, Err: fmt.Errorf("decode %s: %w", zf.Name, err)}
	}
	if zf.UncompressedSize64 > uint64(opts.MaxMemberBytes) {
		return fail(ErrTooLarge)
	}
	format, ok, _ := formatForName(zf.Name)
	if !ok || format == FormatZIP {
		return fail(ErrUnsupportedFormat)
	}
	rc, err := zf.Open()
	if err != nil {
		return fail(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, opts.MaxMemberBytes+1))
	if err != nil {
		return fail(err)
	}
	if int64(len(data)) > opts.MaxMemberBytes {
		return fail(ErrTooLarge)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fail(ErrEmptyFile)
	}
	return decodeOne(zf.Name, format, data)
}

// skipMember drops metadata that archivers add next to the real files.
func skipMember(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") ||
		strings.HasPrefix(base, ".") ||
		strings.HasPrefix(base, "~$")
}
