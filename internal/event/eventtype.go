package event

import "strings"

// EventType is the canonical, closed set of control-event types this
// runtime recognizes. The source this system was distilled from carried
// two overlapping enums (EventType and EventTypeV2); this implementation
// keeps exactly one canonical type whose string values are the wire
// values themselves, rather than threading two representations through
// the core.
type EventType string

const (
	ExtractionExternalSyncUnitsStart EventType = "EXTRACTION_EXTERNAL_SYNC_UNITS_START"

	ExtractionMetadataStart EventType = "EXTRACTION_METADATA_START"

	ExtractionDataStart    EventType = "EXTRACTION_DATA_START"
	ExtractionDataContinue EventType = "EXTRACTION_DATA_CONTINUE"
	ExtractionDataDelete   EventType = "EXTRACTION_DATA_DELETE"

	ExtractionAttachmentsStart    EventType = "EXTRACTION_ATTACHMENTS_START"
	ExtractionAttachmentsContinue EventType = "EXTRACTION_ATTACHMENTS_CONTINUE"
	ExtractionAttachmentsDelete   EventType = "EXTRACTION_ATTACHMENTS_DELETE"

	StartLoadingData    EventType = "START_LOADING_DATA"
	ContinueLoadingData EventType = "CONTINUE_LOADING_DATA"

	StartLoadingAttachments    EventType = "START_LOADING_ATTACHMENTS"
	ContinueLoadingAttachments EventType = "CONTINUE_LOADING_ATTACHMENTS"

	StartDeletingLoaderState           EventType = "START_DELETING_LOADER_STATE"
	StartDeletingLoaderAttachmentState EventType = "START_DELETING_LOADER_ATTACHMENT_STATE"

	// Unknown is the sentinel for any event_type this runtime does not
	// recognize.
	Unknown EventType = "UNKNOWN"
)

// Terminal outcomes. Each phase has at most one Done/Progress/Delayed/Error
// variant; the supervisor's arbiter only ever needs the Error variant, the
// rest are emitted directly by the worker's phase code.
const (
	ExternalSyncUnitsDone  EventType = "EXTRACTION_EXTERNAL_SYNC_UNITS_DONE"
	ExternalSyncUnitsError EventType = "EXTRACTION_EXTERNAL_SYNC_UNITS_ERROR"

	MetadataExtractionDone  EventType = "EXTRACTION_METADATA_DONE"
	MetadataExtractionError EventType = "EXTRACTION_METADATA_ERROR"

	DataExtractionDone     EventType = "EXTRACTION_DATA_DONE"
	DataExtractionProgress EventType = "EXTRACTION_DATA_PROGRESS"
	DataExtractionError    EventType = "EXTRACTION_DATA_ERROR"

	ExtractorStateDeletionDone  EventType = "EXTRACTION_DATA_DELETE_DONE"
	ExtractorStateDeletionError EventType = "EXTRACTOR_STATE_DELETION_ERROR"

	AttachmentExtractionDone     EventType = "EXTRACTION_ATTACHMENTS_DONE"
	AttachmentExtractionProgress EventType = "EXTRACTION_ATTACHMENTS_PROGRESS"
	AttachmentExtractionDelayed  EventType = "EXTRACTION_ATTACHMENTS_DELAYED"
	AttachmentExtractionError    EventType = "EXTRACTION_ATTACHMENTS_ERROR"

	ExtractorAttachmentsStateDeletionDone  EventType = "EXTRACTION_ATTACHMENTS_DELETE_DONE"
	ExtractorAttachmentsStateDeletionError EventType = "EXTRACTOR_ATTACHMENTS_STATE_DELETION_ERROR"

	DataLoadingDone     EventType = "DATA_LOADING_DONE"
	DataLoadingProgress EventType = "DATA_LOADING_PROGRESS"
	DataLoadingError    EventType = "DATA_LOADING_ERROR"

	AttachmentLoadingDone     EventType = "ATTACHMENT_LOADING_DONE"
	AttachmentLoadingProgress EventType = "ATTACHMENT_LOADING_PROGRESS"
	AttachmentLoadingDelayed  EventType = "ATTACHMENT_LOADING_DELAYED"
	AttachmentLoadingError    EventType = "ATTACHMENT_LOADING_ERROR"

	LoaderStateDeletionDone  EventType = "LOADER_STATE_DELETION_DONE"
	LoaderStateDeletionError EventType = "LOADER_STATE_DELETION_ERROR"

	LoaderAttachmentStateDeletionDone  EventType = "LOADER_ATTACHMENT_STATE_DELETION_DONE"
	LoaderAttachmentStateDeletionError EventType = "LOADER_ATTACHMENT_STATE_DELETION_ERROR"

	UnknownEventType EventType = "UNKNOWN_EVENT_TYPE"
)

// Stateless reports whether events of this type must bypass state
// fetch/persist and the initial-domain-mapping install (spec §3).
func (t EventType) Stateless() bool {
	switch t {
	case ExtractionExternalSyncUnitsStart,
		ExtractionDataDelete,
		ExtractionAttachmentsDelete,
		StartDeletingLoaderState,
		StartDeletingLoaderAttachmentState:
		return true
	}
	return false
}

// IsDoneOutcome reports whether t is a "…Done" terminal outcome, as
// opposed to a Progress/Delayed/Error outcome. The emit path blocks Done
// outcomes during a cooperative timeout (spec §4.5.1) but still allows
// Progress/Delayed/Error through.
func (t EventType) IsDoneOutcome() bool {
	return strings.HasSuffix(string(t), "_DONE")
}

// CanonicalErrorEvent maps an inbound event type to the terminal error
// event the supervisor's arbiter emits when the worker exits without
// emitting anything itself (spec §6).
func CanonicalErrorEvent(t EventType) EventType {
	switch t {
	case ExtractionExternalSyncUnitsStart:
		return ExternalSyncUnitsError
	case ExtractionMetadataStart:
		return MetadataExtractionError
	case ExtractionDataStart, ExtractionDataContinue:
		return DataExtractionError
	case ExtractionDataDelete:
		return ExtractorStateDeletionError
	case ExtractionAttachmentsStart, ExtractionAttachmentsContinue:
		return AttachmentExtractionError
	case ExtractionAttachmentsDelete:
		return ExtractorAttachmentsStateDeletionError
	case StartLoadingData, ContinueLoadingData:
		return DataLoadingError
	case StartLoadingAttachments, ContinueLoadingAttachments:
		return AttachmentLoadingError
	case StartDeletingLoaderState:
		return LoaderStateDeletionError
	case StartDeletingLoaderAttachmentState:
		return LoaderAttachmentStateDeletionError
	default:
		return UnknownEventType
	}
}
