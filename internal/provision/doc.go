// Package provision runs the Guest Additions installation as a linear
// pipeline of fallible steps.
//
// Steps run strictly in order. The first failing step stops the pipeline
// and its error, a *model.StepError naming the step and the failure kind,
// is returned to the caller together with the results of every step that
// ran. There are no retries, no rollback and no cleanup on failure.
//
// Step order:
//  1. check-privileges
//  2. install-packages
//  3. install-kernel-headers
//  4. download-image
//  5. create-directories
//  6. mount-image
//  7. copy-contents
//  8. unmount-image
//  9. run-installer
//  10. cleanup
//  11. reboot-prompt
package provision
