package docker

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/archive"
)

// DockerfileName is the path of the generated Dockerfile inside the build
// context. It does not clash with a Dockerfile the repository already has.
const DockerfileName = ".manifestor.Dockerfile"

var contextExcludes = []string{".git", "node_modules", ".venv", "__pycache__"}

// BuildOutputCallback is invoked with incremental build messages.
type BuildOutputCallback func(string)

// BuildResult summarizes a verification build.
type BuildResult struct {
	Tag      string        `json:"tag"`
	ImageID  string        `json:"imageId,omitempty"`
	Duration time.Duration `json:"duration"`
}

// VerifyBuild builds dockerfile against the source tree in dir and removes
// the image afterwards unless keep is set.
func (c *Client) VerifyBuild(ctx context.Context, dir, dockerfile, tag string, keep bool, onOutput BuildOutputCallback) (BuildResult, error) {
	if c == nil || c.inner == nil {
		return BuildResult{}, ErrNotInitialized
	}
	if strings.TrimSpace(dir) == "" {
		return BuildResult{}, fmt.Errorf("build directory cannot be empty")
	}
	if strings.TrimSpace(tag) == "" {
		return BuildResult{}, fmt.Errorf("image tag cannot be empty")
	}
	tree, err := archive.TarWithOptions(dir, &archive.TarOptions{ExcludePatterns: contextExcludes})
	if err != nil {
		return BuildResult{}, fmt.Errorf("create build context: %w", err)
	}
	buildCtx := withDockerfile(tree, []byte(dockerfile))
	defer buildCtx.Close()

	start := time.Now()
	resp, err := c.inner.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  DockerfileName,
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return BuildResult{}, fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	result := BuildResult{Tag: tag}
	if err := consumeBuildOutput(resp.Body, &result, onOutput); err != nil {
		return BuildResult{}, err
	}
	result.Duration = time.Since(start)

	if !keep {
		if _, err := c.inner.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
			return result, fmt.Errorf("remove verification image: %w", err)
		}
	}
	return result, nil
}

func consumeBuildOutput(r io.Reader, result *BuildResult, onOutput BuildOutputCallback) error {
	decoder := json.NewDecoder(r)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("%w: %s", ErrBuildFailed, errMsg)
		}
		if id, ok := msg.Aux["ID"].(string); ok {
			result.ImageID = id
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
}

// withDockerfile streams tree with the generated Dockerfile appended. Any
// entry already named DockerfileName is dropped.
func withDockerfile(tree io.ReadCloser, dockerfile []byte) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer tree.Close()
		tw := tar.NewWriter(pw)
		tr := tar.NewReader(tree)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				pw.CloseWithError(fmt.Errorf("read build context: %w", err))
				return
			}
			if strings.TrimPrefix(hdr.Name, "./") == DockerfileName {
				continue
			}
			if err := tw.WriteHeader(hdr); err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(tw, tr); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		hdr := &tar.Header{
			Name:    DockerfileName,
			Mode:    0o644,
			Size:    int64(len(dockerfile)),
			ModTime: time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := tw.Write(dockerfile); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(tw.Close())
	}()
	return pr
}

type imageBuildMessage struct {
	Stream         string                `json:"stream"`
	Status         string                `json:"status"`
	ID             string                `json:"id"`
	Progress       string                `json:"progress"`
	ProgressDetail progressDetail        `json:"progressDetail"`
	Error          string                `json:"error"`
	ErrorDetail    imageBuildErrorDetail `json:"errorDetail"`
	Aux            map[string]any        `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return m.Stream
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && m.ProgressDetail.Total > 0 {
			progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	if id, ok := m.Aux["ID"]; ok {
		return fmt.Sprintf("image id: %v", id)
	}
	return ""
}
