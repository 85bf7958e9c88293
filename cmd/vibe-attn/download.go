package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Source URLs. ClinVar is GRCh38 only, to match the UCSC hg38 FASTA.
const (
	clinvarURL = "https://ftp.ncbi.nlm.nih.gov/pub/clinvar/vcf_GRCh38/clinvar.vcf.gz"
	hg38URL    = "https://hgdownload.soe.ucsc.edu/goldenPath/hg38/bigZips/hg38.fa.gz"
)

func newDownloadCmd(a *app) *cobra.Command {
	var (
		outputDir  string
		skipGenome bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download ClinVar and the hg38 reference genome",
		Long: `Download the GRCh38 ClinVar VCF (with its tabix index) and the UCSC hg38
FASTA. The genome is decompressed and indexed so extract can read it.

Files downloaded:
  - clinvar.vcf.gz (~150MB)
  - clinvar.vcf.gz.tbi
  - hg38.fa.gz (~950MB, ~3.1GB decompressed)`,
		Example: `  vibe-attn download
  vibe-attn download --output /data/vibe-attn
  vibe-attn download --skip-genome`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.settings(cmd, nil)
			if err != nil {
				return err
			}
			if outputDir == "" {
				outputDir = cfg.DataDir
			}
			return runDownload(a, cmd.OutOrStdout(), outputDir, skipGenome)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (default: data_dir, ~/.vibe-attn/)")
	cmd.Flags().BoolVar(&skipGenome, "skip-genome", false, "only download ClinVar")

	return cmd
}

func runDownload(a *app, w io.Writer, destDir string, skipGenome bool) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", destDir, err)
	}

	fmt.Fprintf(w, "Downloading ClinVar (GRCh38)...\n")
	fmt.Fprintf(w, "Destination: %s\n\n", destDir)

	vcfPath := filepath.Join(destDir, filepath.Base(clinvarURL))
	if err := downloadFile(w, clinvarURL, vcfPath); err != nil {
		return fmt.Errorf("downloading ClinVar: %w", err)
	}
	if err := downloadFile(w, clinvarURL+".tbi", vcfPath+".tbi"); err != nil {
		// extract never needs the tabix index
		a.logger.Warn("could not download ClinVar index", zap.Error(err))
	}

	if !skipGenome {
		gzPath := filepath.Join(destDir, filepath.Base(hg38URL))
		if err := downloadFile(w, hg38URL, gzPath); err != nil {
			return fmt.Errorf("downloading genome: %w", err)
		}
		fastaPath := strings.TrimSuffix(gzPath, ".gz")
		if err := gunzipFile(w, gzPath, fastaPath); err != nil {
			return err
		}
		if err := indexFASTA(w, fastaPath); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nDownload complete!\n")
	fmt.Fprintf(w, "To run the analysis, run:\n")
	fmt.Fprintf(w, "  vibe-attn pipeline\n")
	return nil
}

// downloadFile downloads a file from URL to the destination path with progress.
func downloadFile(w io.Writer, url, destPath string) error {
	// Check if file already exists
	if info, err := os.Stat(destPath); err == nil {
		fmt.Fprintf(w, "  %s already exists (%s), skipping\n", filepath.Base(destPath), formatSize(info.Size()))
		return nil
	}

	fmt.Fprintf(w, "  Downloading %s...\n", filepath.Base(destPath))

	client := &http.Client{
		Timeout: 60 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	var downloaded int64
	pw := &progressWriter{
		w:          w,
		total:      resp.ContentLength,
		downloaded: &downloaded,
		lastPrint:  time.Now(),
	}

	_, err = io.Copy(f, io.TeeReader(resp.Body, pw))
	f.Close()

	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}

	fmt.Fprintf(w, "    Done: %s\n", formatSize(downloaded))
	return nil
}

// gunzipFile decompresses src into dst unless dst already exists. UCSC
// ships plain gzip, which the faidx reader cannot seek.
func gunzipFile(w io.Writer, src, dst string) error {
	if info, err := os.Stat(dst); err == nil {
		fmt.Fprintf(w, "  %s already exists (%s), skipping\n", filepath.Base(dst), formatSize(info.Size()))
		return nil
	}
	fmt.Fprintf(w, "  Decompressing %s...\n", filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer zr.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(out, zr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}

	fmt.Fprintf(w, "    Done: %s\n", formatSize(n))
	return nil
}

// progressWriter tracks download progress.
type progressWriter struct {
	w          io.Writer
	total      int64
	downloaded *int64
	lastPrint  time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	*pw.downloaded += int64(n)

	// Print progress every second
	if time.Since(pw.lastPrint) > time.Second {
		if pw.total > 0 {
			pct := float64(*pw.downloaded) / float64(pw.total) * 100
			fmt.Fprintf(pw.w, "\r    Progress: %s / %s (%.1f%%)  ",
				formatSize(*pw.downloaded), formatSize(pw.total), pct)
		} else {
			fmt.Fprintf(pw.w, "\r    Progress: %s  ", formatSize(*pw.downloaded))
		}
		pw.lastPrint = time.Now()
	}

	return n, nil
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
