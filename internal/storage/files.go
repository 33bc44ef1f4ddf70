package storage

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileManager owns the on-disk media layout: uploaded audio, captured
// photos, and exported pack PDFs.
type FileManager struct {
	baseDir        string
	audioDir       string
	photoDir       string
	pdfDir         string
	maxUploadBytes int64
}

const (
	ffmpegBinary     = "ffmpeg"
	maxWhisperBytes  = 25 * 1024 * 1024
	compressedSuffix = "_compressed"
	compressedExt    = ".mp3"
)

var compressionProfiles = []struct {
	bitrate    string
	sampleRate string
}{
	{bitrate: "128k", sampleRate: "44100"},
	{bitrate: "64k", sampleRate: "22050"},
	{bitrate: "32k", sampleRate: "12000"},
}

var audioExtensionFallback = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/ogg":   ".webm",
}

var photoExtensionFallback = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

func NewFileManager(baseDir string, maxUploadBytes int64) (*FileManager, error) {
	fm := &FileManager{
		baseDir:        baseDir,
		audioDir:       filepath.Join(baseDir, "audio"),
		photoDir:       filepath.Join(baseDir, "photos"),
		pdfDir:         filepath.Join(baseDir, "pdf"),
		maxUploadBytes: maxUploadBytes,
	}

	dirs := []string{fm.baseDir, fm.audioDir, fm.photoDir, fm.pdfDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return fm, nil
}

// SaveUploadedAudio stores one uploaded recording and returns its path.
func (fm *FileManager) SaveUploadedAudio(file multipart.File, filename string) (string, error) {
	return fm.saveUpload(file, filename, fm.audioDir, audioExtensionFallback)
}

// SaveUploadedPhoto stores one captured notes photo and returns its path.
func (fm *FileManager) SaveUploadedPhoto(file multipart.File, filename string) (string, error) {
	return fm.saveUpload(file, filename, fm.photoDir, photoExtensionFallback)
}

func (fm *FileManager) saveUpload(file multipart.File, filename, dir string, fallback map[string]string) (string, error) {
	sample := make([]byte, 512)
	n, err := file.Read(sample)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read upload sample: %w", err)
	}
	sample = sample[:n]

	ext := normalizeExtension(filename)
	contentType := strings.ToLower(http.DetectContentType(sample))
	if ext == "" {
		ext = fallbackExtension(contentType, fallback)
	}
	if ext == "" {
		ext = ".bin"
	}

	filenameOnDisk := fmt.Sprintf("%s%s", uuid.NewString(), ext)
	path := filepath.Join(dir, filenameOnDisk)

	if err := fm.writeWithLimit(path, sample, file); err != nil {
		return "", err
	}

	return path, nil
}

// PDFPath returns where a lecture's exported pack PDF lives.
func (fm *FileManager) PDFPath(lectureID string) string {
	return filepath.Join(fm.pdfDir, fmt.Sprintf("%s.pdf", lectureID))
}

func (fm *FileManager) writeWithLimit(path string, sample []byte, file multipart.File) error {
	if fm.maxUploadBytes > 0 && int64(len(sample)) > fm.maxUploadBytes {
		return fmt.Errorf("upload exceeds maximum size")
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}

	total := int64(0)

	cleanup := func(err error) error {
		out.Close()
		os.Remove(path)
		return err
	}

	if len(sample) > 0 {
		if _, err := out.Write(sample); err != nil {
			return cleanup(fmt.Errorf("write upload sample: %w", err))
		}
		total += int64(len(sample))
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			total += int64(n)
			if fm.maxUploadBytes > 0 && total > fm.maxUploadBytes {
				return cleanup(fmt.Errorf("upload exceeds maximum size"))
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				return cleanup(fmt.Errorf("write media file: %w", werr))
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return cleanup(fmt.Errorf("read upload content: %w", err))
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close media file: %w", err)
	}

	return nil
}

func normalizeExtension(filename string) string {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func fallbackExtension(contentType string, fallback map[string]string) string {
	if ext, ok := fallback[contentType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// PrepareForTranscription returns a path suitable for a Whisper upload,
// re-encoding through ffmpeg when the recording exceeds the API's 25 MB
// ceiling.
func (fm *FileManager) PrepareForTranscription(inputPath string) (string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() <= maxWhisperBytes {
		return inputPath, nil
	}
	return fm.compressAudio(inputPath)
}

func (fm *FileManager) compressAudio(inputPath string) (string, error) {
	if _, err := exec.LookPath(ffmpegBinary); err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	output := filepath.Join(fm.audioDir, base+compressedSuffix+compressedExt)

	if err := fm.withinWhisperLimit(output); err == nil {
		return output, nil
	}

	var lastErr error
	for idx, profile := range compressionProfiles {
		if idx > 0 {
			_ = os.Remove(output)
		}

		args := []string{
			"-y",
			"-i", inputPath,
			"-vn",
			"-ac", "1",
			"-acodec", "libmp3lame",
			"-b:a", profile.bitrate,
			"-ar", profile.sampleRate,
			output,
		}

		cmd := exec.Command(ffmpegBinary, args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			lastErr = fmt.Errorf("compress audio: %w: %s", err, strings.TrimSpace(stderr.String()))
			continue
		}

		if err := fm.withinWhisperLimit(output); err != nil {
			lastErr = err
			_ = os.Remove(output)
			continue
		}

		return output, nil
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("compressed audio still exceeds Whisper limit")
}

func (fm *FileManager) withinWhisperLimit(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat compressed audio: %w", err)
	}

	if info.Size() > maxWhisperBytes {
		return fmt.Errorf("compressed audio size %.2f MB exceeds Whisper limit of %.2f MB",
			float64(info.Size())/1024.0/1024.0,
			float64(maxWhisperBytes)/1024.0/1024.0)
	}
	return nil
}
