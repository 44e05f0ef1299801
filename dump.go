package sharedimage

import (
	"fmt"

	"github.com/google/uuid"
)

// DumpGUID identifies a memory dump node across processes.
type DumpGUID string

// Memory dump attribute names and units.
const (
	DumpSizeName   = "size"
	DumpUsageName  = "usage"
	DumpUnitsBytes = "bytes"
)

// Ownership edge importances. A higher importance wins when several
// owners claim the same memory.
const (
	NonOwningEdgeImportance     = 0
	ServiceOwningEdgeImportance = 2
)

var dumpNamespace = uuid.MustParse("6a1f3c9e-5b0d-4e8a-9c57-2f6d1b0e8a44")

// GUIDForName derives a stable dump GUID from a name.
func GUIDForName(name string) DumpGUID {
	return DumpGUID(uuid.NewSHA1(dumpNamespace, []byte(name)).String())
}

// SharedImageGUID returns the GUID that client processes use for a
// shared image, so service dumps can be linked to them.
func SharedImageGUID(m Mailbox) DumpGUID {
	return GUIDForName("gpu-shared-image/" + m.String())
}

// DumpName returns the unique allocator dump name of a shared image.
func DumpName(clientID int32, m Mailbox) string {
	return fmt.Sprintf("gpu/shared_images/client_0x%X/mailbox_%s", uint32(clientID), m)
}

// DumpSink receives memory dump records. It is write-only.
type DumpSink interface {
	// CreateAllocatorDump returns the dump node with the given name,
	// creating it if needed.
	CreateAllocatorDump(name string) AllocatorDump

	// CreateSharedGlobalAllocatorDump returns a node shared across
	// processes.
	CreateSharedGlobalAllocatorDump(guid DumpGUID) AllocatorDump

	// AddOwnershipEdge records that source owns (or shares) target.
	AddOwnershipEdge(source, target DumpGUID, importance int)
}

// AllocatorDump is one node of a memory dump.
type AllocatorDump interface {
	GUID() DumpGUID
	AddScalar(name, units string, value uint64)
	AddString(name, units, value string)
}
