package transfer

import (
	"net/http"

	"hpcjobs-controlplane/pkg/objectstore"
	"hpcjobs-controlplane/services/worker"

	"go.uber.org/fx"
)

func provideStagingActions(archiver objectstore.Archiver, client *http.Client) worker.StagingActionFactory {
	return worker.StagingActionFactory(newStagingAction(archiver, client))
}

func provideSubmissionActions(archiver objectstore.Archiver) worker.SubmissionActionFactory {
	return worker.SubmissionActionFactory(newSubmissionAction(archiver))
}

func provideArchiveActions(archiver objectstore.Archiver) worker.ArchiveActionFactory {
	return worker.ArchiveActionFactory(newArchiveAction(archiver))
}

var Module = fx.Module("transfer.service",
	fx.Provide(
		newHTTPClient,
		newCleaner,
		provideStagingActions,
		provideSubmissionActions,
		provideArchiveActions,
	),
)
