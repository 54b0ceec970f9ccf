// Package image acquires the Guest Additions ISO and unpacks it onto the
// host filesystem.
//
// The ISO is fetched with an external downloader (wget), attached with a
// read-only loop mount, copied out with cp and detached again, so that
// the vendor installer can run from a plain directory. Cleanup removes
// the mount point, the ISO and the extracted tree.
//
// None of these operations repair earlier side effects on failure: a
// failed copy leaves the ISO mounted, a failed download may leave a
// truncated file behind. Callers stop at the first error.
package image
