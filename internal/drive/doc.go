// Package drive provides a per-user client for the Google Drive API.
//
// fetchfloww needs three Drive operations:
//   - Listing the user's folders (the sync destination picker)
//   - Creating a folder
//   - Uploading an attachment into a folder
//
// A Client is built from an already authenticated *http.Client, usually one
// returned by google.Credentials.HTTPClient, so token refresh and persistence
// stay outside this package.
//
// Example usage:
//
//	httpClient, err := credentials.HTTPClient(ctx, user)
//	if err != nil {
//	    return err
//	}
//	client, err := drive.NewClient(ctx, httpClient, drive.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	folders, err := client.ListFolders(ctx)
package drive
