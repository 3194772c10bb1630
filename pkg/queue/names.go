package queue

// NameFor builds the region-suffixed execution queue name for a runner kind
// (§4.2, §4.4): `{playwright|k6|monitor}-exec-{region}`.
func NameFor(kind Kind, region string) string {
	return string(kind) + "-exec-" + region
}

// SchedulerName builds a kind's scheduler queue name (§4.2).
func SchedulerName(kind Kind) string {
	return string(kind) + "-scheduler"
}

// TemplateRenderQueue is the shared queue for template-render jobs (§4.2).
const TemplateRenderQueue = "template-render"

// CleanupQueue is the shared data-lifecycle cleanup queue (§4.2).
const CleanupQueue = "data-lifecycle-cleanup"
