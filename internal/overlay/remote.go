package overlay

import "context"

// Uploader sends a raw source asset to remote storage and returns the
// storage path assigned to it.
type Uploader interface {
	Upload(ctx context.Context, asset []byte, filename string) (storagePath string, err error)
}

// CueFetcher retrieves the resolved cue set of an uploaded video.
type CueFetcher interface {
	FetchCues(ctx context.Context, identity Identity, storagePath string) (*CueSet, error)
}

// Registrar announces a newly cached video to the remote service. Its result
// is informational only.
type Registrar interface {
	RegisterBundle(ctx context.Context, identity Identity, storagePath string) error
}

// AssetReader loads the bytes of a source reference for upload.
type AssetReader interface {
	ReadAsset(ctx context.Context, reference string) ([]byte, error)
}

// Renderer displays the currently showing cue. It must call
// Scheduler.OnCueAppeared(index) once the asset is visible.
type Renderer interface {
	Show(index int, cue Cue)
}
