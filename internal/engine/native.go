package engine

import (
	"context"

	"github.com/kvosk/msq/internal/mega"
)

// Native runs the in-process protocol client.
type Native struct {
	dl *mega.Downloader
}

var _ Engine = (*Native)(nil)

func NewNative(dl *mega.Downloader) *Native {
	return &Native{dl: dl}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Fetch(ctx context.Context, req *Request) (*Result, error) {
	files, bytes, err := n.dl.Download(ctx, req.Link, req.DestDir, req.OnBytes)
	if err != nil {
		return nil, err
	}
	return &Result{Files: files, Bytes: bytes}, nil
}
