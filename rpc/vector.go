package rpc

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/index"
	"github.com/visualYJD/dingo-store/region"
)

// VectorSearchRequest asks a region's index for its top-K nearest
// neighbors to Query, matching spec 4.7's Search capability.
type VectorSearchRequest struct {
	Key    []byte // any key inside the target region; routes the call
	Query  index.Query
	TopK   int
	Filter index.Filter
	Epoch  region.Epoch
	// SnapshotTS asks for the index as of a past commit timestamp rather
	// than its live in-memory state (spec 4.7's search(..., snapshot_ts?)).
	// Zero means "latest". Backends here hold a single live snapshot with
	// no MVCC versioning of their own, so any non-zero value is rejected
	// with SnapshotNotSupported rather than silently answering from
	// "latest".
	SnapshotTS uint64
}

// VectorSearchResponse carries the ranked results.
type VectorSearchResponse struct {
	Results []index.ScoredResult
}

// VectorSearch routes to the owning region and reads its Index Wrapper
// on the read pool via ExecuteLeastQueue, spec 4.8's policy for
// "expensive reads such as index search".
func (s *Server) VectorSearch(req *VectorSearchRequest) (*VectorSearchResponse, *errcode.Error) {
	r, cErr := s.route(req.Key)
	if cErr != nil {
		return nil, cErr
	}
	if r.Index == nil {
		return nil, errcode.New(errcode.IndexNotReady)
	}
	if cErr := r.Meta.CheckEpoch(req.Epoch); cErr != nil {
		return nil, cErr
	}
	if req.SnapshotTS != 0 {
		return nil, errcode.Newf(errcode.SnapshotNotSupported, "historical index reads are not implemented")
	}

	var filters []index.Filter
	if req.Filter != nil {
		filters = []index.Filter{req.Filter}
	}
	return dispatchRead(s, func() (*VectorSearchResponse, *errcode.Error) {
		results, err := r.Index.Search(req.Query, req.TopK, filters)
		if err != nil {
			return nil, indexErr(err)
		}
		return &VectorSearchResponse{Results: results}, nil
	})
}

// VectorRangeSearchRequest asks for every neighbor within Radius of
// Query (spec 4.7's RangeSearch).
type VectorRangeSearchRequest struct {
	Key    []byte
	Query  index.Query
	Radius float32
	Filter index.Filter
	Epoch  region.Epoch
	// SnapshotTS mirrors VectorSearchRequest.SnapshotTS.
	SnapshotTS uint64
}

// VectorRangeSearchResponse carries the matching results.
type VectorRangeSearchResponse struct {
	Results []index.ScoredResult
}

// VectorRangeSearch mirrors VectorSearch for the radius variant.
func (s *Server) VectorRangeSearch(req *VectorRangeSearchRequest) (*VectorRangeSearchResponse, *errcode.Error) {
	r, cErr := s.route(req.Key)
	if cErr != nil {
		return nil, cErr
	}
	if r.Index == nil {
		return nil, errcode.New(errcode.IndexNotReady)
	}
	if cErr := r.Meta.CheckEpoch(req.Epoch); cErr != nil {
		return nil, cErr
	}
	if req.SnapshotTS != 0 {
		return nil, errcode.Newf(errcode.SnapshotNotSupported, "historical index reads are not implemented")
	}

	var filters []index.Filter
	if req.Filter != nil {
		filters = []index.Filter{req.Filter}
	}
	return dispatchRead(s, func() (*VectorRangeSearchResponse, *errcode.Error) {
		results, err := r.Index.RangeSearch(req.Query, req.Radius, filters)
		if err != nil {
			return nil, indexErr(err)
		}
		return &VectorRangeSearchResponse{Results: results}, nil
	})
}

// indexErr maps a Backend/Wrapper error into the client-visible codes
// spec 6 defines, distinguishing "not built yet" from "build failed"
// from any other engine failure.
func indexErr(err error) *errcode.Error {
	switch err {
	case index.ErrNotReady:
		return errcode.New(errcode.IndexNotReady)
	case index.ErrBuildFailed:
		return errcode.New(errcode.IndexBuildError)
	default:
		return errcode.Newf(errcode.EngineIO, err.Error())
	}
}
