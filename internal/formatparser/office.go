package formatparser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"docstream/internal/config"
)

// converter shells out to the office suite and the PDF renderer. Every
// invocation runs in its own temp directory which is removed on all exit
// paths; stderr is captured for failure diagnostics.
type converter struct {
	cfg config.ConvertConfig
}

// toPDF converts an office document (pptx/ppt/docx/doc/xls) to PDF and
// returns the PDF bytes.
func (c converter) toPDF(ctx context.Context, fileName string, data []byte) ([]byte, error) {
	return c.convert(ctx, fileName, data, "pdf")
}

// toXLSX upgrades a legacy .xls workbook to .xlsx for the OOXML reader.
func (c converter) toXLSX(ctx context.Context, fileName string, data []byte) ([]byte, error) {
	return c.convert(ctx, fileName, data, "xlsx")
}

func (c converter) convert(ctx context.Context, fileName string, data []byte, target string) (out []byte, err error) {
	dir, err := os.MkdirTemp("", "docstream-convert-*")
	if err != nil {
		return nil, fmt.Errorf("convert tempdir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, filepath.Base(fileName))
	if err := os.WriteFile(src, data, 0o600); err != nil {
		return nil, fmt.Errorf("convert write input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.cfg.SofficePath,
		"--headless", "--norestore", "--convert-to", target, "--outdir", dir, src)
	cmd.Stderr = &stderr
	// Isolate the office profile so concurrent conversions don't fight over it.
	cmd.Env = append(os.Environ(), "HOME="+dir)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: soffice convert-to %s: %v: %s",
			ErrSubprocess, target, err, strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	converted := filepath.Join(dir, base+"."+target)
	out, err = os.ReadFile(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: soffice produced no %s output: %v", ErrSubprocess, target, err)
	}
	return out, nil
}

// renderPages rasterizes every PDF page to PNG at the configured DPI and
// returns the images in page order.
func (c converter) renderPages(ctx context.Context, pdf []byte) (pngs [][]byte, err error) {
	dir, err := os.MkdirTemp("", "docstream-render-*")
	if err != nil {
		return nil, fmt.Errorf("render tempdir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("render write input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.cfg.PdftoppmPath,
		"-png", "-r", fmt.Sprint(c.cfg.RenderDPI), src, filepath.Join(dir, "page"))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %v: %s",
			ErrSubprocess, err, strings.TrimSpace(stderr.String()))
	}

	entries, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("render glob: %w", err)
	}
	sort.Strings(entries)
	for _, path := range entries {
		img, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("render read %s: %w", filepath.Base(path), err)
		}
		pngs = append(pngs, img)
	}
	return pngs, nil
}
