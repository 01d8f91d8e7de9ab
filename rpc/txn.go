package rpc

import (
	"github.com/visualYJD/dingo-store/errcode"
	"github.com/visualYJD/dingo-store/region"
	"github.com/visualYJD/dingo-store/txn"
)

// Prewrite routes by the request's primary key and runs txn.Engine.
// Prewrite on the write pool, matching kv/server/server.go's one
// method per RPC, validate-then-dispatch shape.
func (s *Server) Prewrite(req *txn.PrewriteRequest, epoch region.Epoch) (*txn.PrewriteResult, *errcode.Error) {
	r, cErr := s.route(req.Primary)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.Primary), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchWrite(s, func() (*txn.PrewriteResult, *errcode.Error) { return r.Txn.Prewrite(req) })
}

// Commit routes by the request's first key.
func (s *Server) Commit(req *txn.CommitRequest, epoch region.Epoch) (*txn.CommitResult, *errcode.Error) {
	if len(req.Keys) == 0 {
		return nil, errcode.New(errcode.KeyEmpty)
	}
	r, cErr := s.route(req.Keys[0])
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.Keys[0]), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchWrite(s, func() (*txn.CommitResult, *errcode.Error) {
		result, cErr := r.Txn.Commit(req)
		if cErr != nil {
			return nil, cErr
		}
		if r.Index != nil {
			r.applyIndexCommit(req, result)
		}
		return result, nil
	})
}

// PessimisticLock routes by the request's primary key.
func (s *Server) PessimisticLock(req *txn.PessimisticLockRequest, epoch region.Epoch) (*txn.PessimisticLockResult, *errcode.Error) {
	r, cErr := s.route(req.Primary)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.Primary), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchWrite(s, func() (*txn.PessimisticLockResult, *errcode.Error) { return r.Txn.PessimisticLock(req) })
}

// PessimisticRollback routes by the request's first key.
func (s *Server) PessimisticRollback(req *txn.PessimisticRollbackRequest, epoch region.Epoch) *errcode.Error {
	if len(req.Keys) == 0 {
		return errcode.New(errcode.KeyEmpty)
	}
	r, cErr := s.route(req.Keys[0])
	if cErr != nil {
		return cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.Keys[0]), epoch); cErr != nil {
		return cErr
	}
	_, cErr = dispatchWrite(s, func() (struct{}, *errcode.Error) {
		return struct{}{}, r.Txn.PessimisticRollback(req)
	})
	return cErr
}

// BatchRollback routes by the request's first key.
func (s *Server) BatchRollback(req *txn.BatchRollbackRequest, epoch region.Epoch) (*txn.BatchRollbackResult, *errcode.Error) {
	if len(req.Keys) == 0 {
		return nil, errcode.New(errcode.KeyEmpty)
	}
	r, cErr := s.route(req.Keys[0])
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.Keys[0]), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchWrite(s, func() (*txn.BatchRollbackResult, *errcode.Error) { return r.Txn.BatchRollback(req) })
}

// ResolveLock routes by a caller-supplied routingKey, since the request
// itself may carry no keys at all (spec 4.5: "or just Keys, if given").
func (s *Server) ResolveLock(routingKey []byte, req *txn.ResolveLockRequest, epoch region.Epoch) (*txn.ResolveLockResult, *errcode.Error) {
	r, cErr := s.route(routingKey)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(routingKey), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchWrite(s, func() (*txn.ResolveLockResult, *errcode.Error) { return r.Txn.ResolveLock(req) })
}

// CheckTxnStatus routes by the request's primary key. It runs on the
// read pool: it may write a protective rollback record, but it never
// blocks other writers on a latch long enough to justify write-pool
// priority, and is overwhelmingly called to observe rather than mutate.
func (s *Server) CheckTxnStatus(req *txn.CheckTxnStatusRequest, epoch region.Epoch) (*txn.CheckTxnStatusResult, *errcode.Error) {
	r, cErr := s.route(req.PrimaryKey)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.PrimaryKey), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchRead(s, func() (*txn.CheckTxnStatusResult, *errcode.Error) { return r.Txn.CheckTxnStatus(req) })
}

// HeartBeat routes by the request's primary key.
func (s *Server) HeartBeat(req *txn.HeartBeatRequest, epoch region.Epoch) (*txn.HeartBeatResult, *errcode.Error) {
	r, cErr := s.route(req.PrimaryKey)
	if cErr != nil {
		return nil, cErr
	}
	if cErr := r.checkWritable(encodeBoundaryKey(req.PrimaryKey), epoch); cErr != nil {
		return nil, cErr
	}
	return dispatchWrite(s, func() (*txn.HeartBeatResult, *errcode.Error) { return r.Txn.HeartBeat(req) })
}
