package odm

import (
	"github.com/odmpf/odmpfd/internal/logging"
	"github.com/odmpf/odmpfd/internal/odmreg"
)

// ErrorCallback returns the per-vector error-logging callback for vec,
// bound to reg. It dispatches by vector index: request-queue vectors
// [0,32) log and write-back (clear-on-write) their REQQX_INT; 0x20 is the
// shared RAS vector; 0x22 is the NCB error vector; any other index is
// logged as invalid.
func ErrorCallback(reg odmreg.Region, vec int) func() {
	switch {
	case vec >= 0 && vec < odmreg.MaxReqqInt:
		return func() {
			status := reg.ReadU64(odmreg.ReqqXInt(vec))
			logging.Write("odm", logging.LevelErr, "reqq %d interrupt: %#x", vec, status)
			reg.WriteU64(odmreg.ReqqXInt(vec), status)
		}

	case vec == odmreg.VecRAS:
		return func() {
			status := reg.ReadU64(odmreg.PFRAS)
			logging.Write("odm", logging.LevelErr, "PF_RAS interrupt: %#x", status)
			reg.WriteU64(odmreg.PFRAS, status)
		}

	case vec == odmreg.VecNCBErr:
		return func() {
			status := reg.ReadU64(odmreg.NCBOErrInfo)
			logging.Write("odm", logging.LevelErr, "NCBO_ERR_INFO: %#x", status)
			reg.WriteU64(odmreg.NCBOErrInfo, status)
		}

	default:
		return func() {
			logging.Write("odm", logging.LevelErr, "invalid index %d", vec)
		}
	}
}
